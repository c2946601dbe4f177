package goal

import (
	"fmt"
	"math"

	"nutrition-bot/internal/models"
)

const (
	kcalPerProtein = 4
	kcalPerFat     = 9
	kcalPerCarb    = 4

	minCarbs          = 40.0
	proteinFloorPerKg = 1.2
	fatFloorPerKg     = 0.6
	maxCalories       = 4500.0
	surplusCeiling    = 800.0
)

// Range is an inclusive bound on one biometric value.
type Range struct {
	Min, Max float64
}

func (r Range) Contains(v float64) bool { return v >= r.Min && v <= r.Max }

var (
	AgeRange     = Range{10, 100}
	HeightRange  = Range{100, 250}
	WeightRange  = Range{30, 300}
	BodyFatRange = Range{3, 60}
)

var workFactor = map[models.WorkIntensity]float64{
	models.WorkSedentary: 1.2,
	models.WorkLight:     1.375,
	models.WorkModerate:  1.55,
	models.WorkHeavy:     1.725,
}

var trainingBonus = map[models.TrainingFrequency]float64{
	models.TrainingNone:   0,
	models.TrainingLow:    0.05,
	models.TrainingMedium: 0.10,
	models.TrainingHigh:   0.15,
}

var lossDelta = map[models.Plan]float64{
	models.PlanMild:       -0.17,
	models.PlanStandard:   -0.20,
	models.PlanAggressive: -0.25,
}

var gainDelta = map[models.Plan]float64{
	models.PlanMild:       0.12,
	models.PlanStandard:   0.15,
	models.PlanAggressive: 0.18,
}

// Validate checks that the biometrics can produce targets.
func Validate(b models.Biometrics) error {
	switch {
	case b.Gender != models.GenderMale && b.Gender != models.GenderFemale:
		return fmt.Errorf("%w: gender %q", models.ErrInvalidInput, b.Gender)
	case !AgeRange.Contains(float64(b.Age)):
		return fmt.Errorf("%w: age %d", models.ErrInvalidInput, b.Age)
	case !HeightRange.Contains(b.HeightCm):
		return fmt.Errorf("%w: height %.0f", models.ErrInvalidInput, b.HeightCm)
	case !WeightRange.Contains(b.WeightKg):
		return fmt.Errorf("%w: weight %.0f", models.ErrInvalidInput, b.WeightKg)
	case b.BodyFat != nil && !BodyFatRange.Contains(*b.BodyFat):
		return fmt.Errorf("%w: body fat %.1f", models.ErrInvalidInput, *b.BodyFat)
	}
	if _, ok := workFactor[b.Work]; !ok {
		return fmt.Errorf("%w: work %q", models.ErrInvalidInput, b.Work)
	}
	if _, ok := trainingBonus[b.Training]; !ok {
		return fmt.Errorf("%w: training %q", models.ErrInvalidInput, b.Training)
	}
	switch b.Target {
	case models.TargetLoss, models.TargetGain:
		if _, ok := lossDelta[b.Plan]; !ok {
			return fmt.Errorf("%w: plan %q", models.ErrInvalidInput, b.Plan)
		}
	case models.TargetMaintain:
	default:
		return fmt.Errorf("%w: target %q", models.ErrInvalidInput, b.Target)
	}
	return nil
}

// BMR returns the basal metabolic rate in kcal. The lean body mass formula
// is used when body fat is known.
func BMR(b models.Biometrics) float64 {
	if b.BodyFat != nil {
		lbm := b.WeightKg * (1 - *b.BodyFat/100)
		return 370 + 21.6*lbm
	}
	base := 10*b.WeightKg + 6.25*b.HeightCm - 5*float64(b.Age)
	if b.Gender == models.GenderFemale {
		return base - 161
	}
	return base + 5
}

// ActivityMultiplier combines work intensity and training frequency.
func ActivityMultiplier(work models.WorkIntensity, training models.TrainingFrequency) float64 {
	f, ok := workFactor[work]
	if !ok {
		f = workFactor[models.WorkSedentary]
	}
	m := f * (1 + trainingBonus[training])
	return math.Min(math.Max(m, 1.1), 2.2)
}

func calorieDelta(t models.Target, p models.Plan) float64 {
	switch t {
	case models.TargetLoss:
		return lossDelta[p]
	case models.TargetGain:
		return gainDelta[p]
	}
	return 0
}

func proteinPerKg(t models.Target, p models.Plan) float64 {
	switch t {
	case models.TargetLoss:
		return map[models.Plan]float64{models.PlanMild: 1.8, models.PlanStandard: 2.0, models.PlanAggressive: 2.4}[p]
	case models.TargetGain:
		return map[models.Plan]float64{models.PlanMild: 1.6, models.PlanStandard: 1.8, models.PlanAggressive: 2.0}[p]
	}
	return 1.6
}

func fatPerKg(t models.Target, p models.Plan) float64 {
	switch t {
	case models.TargetLoss:
		if p == models.PlanAggressive {
			return 0.7
		}
		return 0.8
	case models.TargetGain:
		return 1.0
	}
	return 0.9
}

// ComputeTargets derives the daily targets. Values are kept unrounded until
// the end; carbs are derived from the rounded calories, protein and fat so
// the macro budget closes.
func ComputeTargets(b models.Biometrics) (models.Targets, error) {
	if err := Validate(b); err != nil {
		return models.Targets{}, err
	}

	bmr := BMR(b)
	maintenance := bmr * ActivityMultiplier(b.Work, b.Training)

	calories := maintenance * (1 + calorieDelta(b.Target, b.Plan))
	floor := 1400.0
	if b.Gender == models.GenderFemale {
		floor = 1200
	}
	floor = math.Max(floor, bmr*1.1)
	ceiling := math.Min(maintenance+surplusCeiling, maxCalories)
	calories = math.Min(math.Max(calories, floor), ceiling)

	protein := proteinPerKg(b.Target, b.Plan) * b.WeightKg
	fat := fatPerKg(b.Target, b.Plan) * b.WeightKg
	proteinFloor := proteinFloorPerKg * b.WeightKg
	fatFloor := fatFloorPerKg * b.WeightKg

	remaining := func() float64 { return calories - kcalPerProtein*protein - kcalPerFat*fat }

	// Make room for the carb floor, fat first, then protein.
	if short := minCarbs*kcalPerCarb - remaining(); short > 0 {
		cut := math.Min(short/kcalPerFat, math.Max(fat-fatFloor, 0))
		fat -= cut
		short -= cut * kcalPerFat
		if short > 0 {
			protein -= math.Min(short/kcalPerProtein, math.Max(protein-proteinFloor, 0))
		}
	}
	// Floors alone exceed the budget: shrink both proportionally.
	if rem := remaining(); rem < 0 {
		k := calories / (kcalPerProtein*protein + kcalPerFat*fat)
		protein *= k
		fat *= k
	}

	t := models.Targets{
		Calories: int(math.Round(calories)),
		Protein:  int(math.Round(protein)),
		Fat:      int(math.Round(fat)),
	}
	carbs := math.Round(float64(t.Calories-kcalPerProtein*t.Protein-kcalPerFat*t.Fat) / kcalPerCarb)
	if carbs < 0 {
		carbs = 0
	}
	t.Carbs = int(carbs)
	return t, nil
}

// BudgetGap is the difference between the macro energy and the calorie target.
func BudgetGap(t models.Targets) int {
	return kcalPerProtein*t.Protein + kcalPerFat*t.Fat + kcalPerCarb*t.Carbs - t.Calories
}
