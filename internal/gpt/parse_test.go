package gpt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nutrition-bot/internal/models"
)

func TestParseNumber(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"150g", 150},
		{"about 12,5 grams", 12.5},
		{"0.4", 0.4},
		{"-30 kcal", -30},
		{"10-15 g", 10},
		{"none", 0},
		{"", 0},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, ParseNumber(tc.in), tc.in)
	}
}

func TestHasDigits(t *testing.T) {
	assert.True(t, HasDigits("200 g"))
	assert.False(t, HasDigits("bigger"))
}

func TestNormalize_Recognized(t *testing.T) {
	res := Normalize(`{"is_food": true, "confidence": 0.92, "type": "meal", "name": "Apple",
		"ingredients": ["apple"], "serving": "150g", "calories": 78, "protein": "0.4", "fat": 0.3, "carbs": 21}`)

	rec, ok := res.(Recognized)
	require.True(t, ok, "got %T", res)
	assert.Equal(t, "Apple", rec.Dish.Name)
	assert.Equal(t, models.DishMeal, rec.Dish.Type)
	assert.Equal(t, 150.0, rec.Dish.Serving)
	assert.Equal(t, models.Macros{Calories: 78, Protein: 0.4, Fat: 0.3, Carbs: 21}, rec.Dish.Macros)
	assert.Equal(t, []string{"apple"}, rec.Dish.Ingredients)
	assert.Equal(t, 0.92, rec.Confidence)
}

func TestNormalize_LowConfidenceIsNotFood(t *testing.T) {
	res := Normalize(`{"is_food": true, "confidence": 0.69, "name": "Soup"}`)
	assert.IsType(t, NotFood{}, res)
}

func TestNormalize_ExplicitNotFood(t *testing.T) {
	res := Normalize(`{"is_food": false, "confidence": 0.99, "name": "Cat"}`)
	assert.IsType(t, NotFood{}, res)
}

func TestNormalize_MissingNameNeedsClarification(t *testing.T) {
	res := Normalize(`{"is_food": true, "confidence": 0.8, "type": "drink", "name": "", "serving": 250}`)
	nc, ok := res.(NeedsClarification)
	require.True(t, ok, "got %T", res)
	assert.Equal(t, models.DishDrink, nc.Partial.Type)
	assert.Equal(t, 250.0, nc.Partial.Serving)
}

func TestNormalize_NegativeNumbersClampToZero(t *testing.T) {
	res := Normalize(`{"is_food": true, "confidence": 1, "name": "X", "calories": -5, "fat": null}`)
	rec := res.(Recognized)
	assert.Equal(t, 0.0, rec.Dish.Calories)
	assert.Equal(t, 0.0, rec.Dish.Fat)
}

func TestNormalize_NegativeStringsClampLikeNumbers(t *testing.T) {
	res := Normalize(`{"is_food": true, "confidence": 1, "name": "X", "calories": "-5", "protein": "-2,5 g", "carbs": "12 g"}`)
	rec := res.(Recognized)
	assert.Equal(t, 0.0, rec.Dish.Calories)
	assert.Equal(t, 0.0, rec.Dish.Protein)
	assert.Equal(t, 12.0, rec.Dish.Carbs)
}

func TestNormalize_ExtractsBracedObjectFromNoise(t *testing.T) {
	res := Normalize("Sure! ```json\n{\"is_food\": true, \"confidence\": 0.9, \"name\": \"Tea\", \"type\": \"drink\", \"ingredients\": \"tea, sugar\"}\n```")
	rec, ok := res.(Recognized)
	require.True(t, ok, "got %T", res)
	assert.Equal(t, "Tea", rec.Dish.Name)
	assert.Equal(t, []string{"tea", "sugar"}, rec.Dish.Ingredients)
}

func TestNormalize_Malformed(t *testing.T) {
	res := Normalize("I cannot help with that")
	tf, ok := res.(TransientFailure)
	require.True(t, ok)
	assert.Equal(t, FailureMalformed, tf.Failure)
}

func TestSummarize(t *testing.T) {
	s := Summarize(Recognized{Dish: models.Dish{Name: "Apple"}, Confidence: 0.9})
	assert.Equal(t, "recognized", s.Kind)
	require.NotNil(t, s.Dish)
	assert.Equal(t, "Apple", s.Dish.Name)

	s = Summarize(TransientFailure{Failure: FailureUpstream})
	assert.Equal(t, FailureUpstream, s.Failure)
}
