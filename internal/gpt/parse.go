package gpt

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"nutrition-bot/internal/models"
)

var decimalRe = regexp.MustCompile(`-?\d+(?:[.,]\d+)?`)

// ParseNumber extracts the first signed decimal number from noisy text such
// as "150g" or "about 12,5". It returns 0 when none is found.
func ParseNumber(s string) float64 {
	m := decimalRe.FindString(s)
	if m == "" {
		return 0
	}
	v, err := strconv.ParseFloat(strings.Replace(m, ",", ".", 1), 64)
	if err != nil {
		return 0
	}
	return v
}

// HasDigits reports whether s contains at least one digit.
func HasDigits(s string) bool {
	return strings.IndexFunc(s, func(r rune) bool { return r >= '0' && r <= '9' }) >= 0
}

// number accepts a JSON number or a numeric-bearing string and is never
// negative.
type number float64

func (n *number) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	var v float64
	switch {
	case bytes.Equal(data, []byte("null")):
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		v = ParseNumber(s)
	default:
		f, err := strconv.ParseFloat(string(data), 64)
		if err != nil {
			f = ParseNumber(string(data))
		}
		v = f
	}
	if v < 0 {
		v = 0
	}
	*n = number(v)
	return nil
}

// stringList accepts either a JSON array of strings or one delimited string.
type stringList []string

func (l *stringList) UnmarshalJSON(data []byte) error {
	var arr []string
	if err := json.Unmarshal(data, &arr); err == nil {
		*l = clean(arr)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		*l = nil
		return nil
	}
	*l = clean(strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ';' }))
	return nil
}

func clean(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

type rawAnalysis struct {
	IsFood      *bool      `json:"is_food"`
	Confidence  number     `json:"confidence"`
	Type        string     `json:"type"`
	Name        string     `json:"name"`
	Ingredients stringList `json:"ingredients"`
	Serving     number     `json:"serving"`
	Calories    number     `json:"calories"`
	Protein     number     `json:"protein"`
	Fat         number     `json:"fat"`
	Carbs       number     `json:"carbs"`
}

func decode(content string) (*rawAnalysis, error) {
	var raw rawAnalysis
	err := json.Unmarshal([]byte(content), &raw)
	if err == nil {
		return &raw, nil
	}
	start, end := strings.Index(content, "{"), strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no json object in response: %w", err)
	}
	if err := json.Unmarshal([]byte(content[start:end+1]), &raw); err != nil {
		return nil, fmt.Errorf("decode extracted object: %w", err)
	}
	return &raw, nil
}

// Normalize turns a raw backend response into a Result.
func Normalize(content string) Result {
	raw, err := decode(content)
	if err != nil {
		return TransientFailure{Failure: FailureMalformed, Err: err}
	}

	conf := float64(raw.Confidence)
	if raw.IsFood != nil && !*raw.IsFood {
		return NotFood{Confidence: conf}
	}
	if conf < ConfidenceThreshold {
		return NotFood{Confidence: conf}
	}

	typ := models.DishMeal
	if strings.EqualFold(strings.TrimSpace(raw.Type), string(models.DishDrink)) {
		typ = models.DishDrink
	}
	dish := models.Dish{
		Name:        strings.TrimSpace(raw.Name),
		Type:        typ,
		Ingredients: []string(raw.Ingredients),
		Serving:     float64(raw.Serving),
		Macros: models.Macros{
			Calories: float64(raw.Calories),
			Protein:  float64(raw.Protein),
			Fat:      float64(raw.Fat),
			Carbs:    float64(raw.Carbs),
		},
	}
	if dish.Name == "" {
		return NeedsClarification{Partial: dish}
	}
	return Recognized{Dish: dish, Confidence: conf}
}
