package models

import (
	"strings"
	"time"
)

type DishType string

const (
	DishMeal  DishType = "meal"
	DishDrink DishType = "drink"
)

// Macros holds the four tracked nutrition values.
type Macros struct {
	Calories float64 `json:"calories"`
	Protein  float64 `json:"protein"`
	Fat      float64 `json:"fat"`
	Carbs    float64 `json:"carbs"`
}

func (m Macros) Add(o Macros) Macros {
	return Macros{
		Calories: m.Calories + o.Calories,
		Protein:  m.Protein + o.Protein,
		Fat:      m.Fat + o.Fat,
		Carbs:    m.Carbs + o.Carbs,
	}
}

func (m Macros) Scale(k float64) Macros {
	return Macros{
		Calories: m.Calories * k,
		Protein:  m.Protein * k,
		Fat:      m.Fat * k,
		Carbs:    m.Carbs * k,
	}
}

// Dish is a normalized analysis result or catalog product.
type Dish struct {
	Name        string   `json:"name"`
	Type        DishType `json:"type"`
	Ingredients []string `json:"ingredients,omitempty"`
	Serving     float64  `json:"serving"`
	Macros
}

// Half returns the dish with serving and macros halved and the name prefixed.
func (d Dish) Half() Dish {
	h := d
	h.Name = "1/2 " + d.Name
	h.Serving = d.Serving / 2
	h.Macros = d.Macros.Scale(0.5)
	h.Ingredients = append([]string(nil), d.Ingredients...)
	return h
}

type Meal struct {
	ID          int64     `json:"id"`
	UserID      int64     `json:"user_id"`
	Name        string    `json:"name"`
	Ingredients []string  `json:"ingredients"`
	Type        DishType  `json:"type"`
	Serving     float64   `json:"serving"`
	Macros                `json:"macros"`
	CreatedAt   time.Time `json:"created_at"`
}

const ingredientSeparator = ";"

func JoinIngredients(items []string) string {
	return strings.Join(items, ingredientSeparator)
}

func SplitIngredients(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ingredientSeparator)
}

// NewMeal builds a persistable meal from a confirmed dish.
func NewMeal(userID int64, d Dish, at time.Time) *Meal {
	return &Meal{
		UserID:      userID,
		Name:        d.Name,
		Ingredients: append([]string(nil), d.Ingredients...),
		Type:        d.Type,
		Serving:     d.Serving,
		Macros:      d.Macros,
		CreatedAt:   at,
	}
}

type CaptureState string

const (
	StateConfirming     CaptureState = "confirming"
	StateClarifying     CaptureState = "clarifying"
	StateDisambiguating CaptureState = "disambiguating"
)

type InputKind string

const (
	InputPhoto InputKind = "photo"
	InputText  InputKind = "text"
)

// PendingMeal is an unconfirmed capture awaiting a user action.
type PendingMeal struct {
	ID             string
	UserID         int64
	ChatID         int64
	MessageID      int
	State          CaptureState
	Dish           Dish
	InputKind      InputKind
	MediaPath      string
	RawText        string
	Candidates     []Dish
	Clarifications int
	CreatedAt      time.Time
	Reminded       bool
}
