package models

import "time"

type Gender string

const (
	GenderMale   Gender = "male"
	GenderFemale Gender = "female"
)

type WorkIntensity string

const (
	WorkSedentary WorkIntensity = "sedentary"
	WorkLight     WorkIntensity = "light"
	WorkModerate  WorkIntensity = "moderate"
	WorkHeavy     WorkIntensity = "heavy"
)

type TrainingFrequency string

const (
	TrainingNone   TrainingFrequency = "none"
	TrainingLow    TrainingFrequency = "1-2"
	TrainingMedium TrainingFrequency = "3-4"
	TrainingHigh   TrainingFrequency = "5+"
)

type Target string

const (
	TargetLoss     Target = "loss"
	TargetMaintain Target = "maintain"
	TargetGain     Target = "gain"
)

type Plan string

const (
	PlanMild       Plan = "mild"
	PlanStandard   Plan = "standard"
	PlanAggressive Plan = "aggressive"
)

type Biometrics struct {
	Gender   Gender            `json:"gender"`
	Age      int               `json:"age"`
	HeightCm float64           `json:"height_cm"`
	WeightKg float64           `json:"weight_kg"`
	BodyFat  *float64          `json:"body_fat"`
	Work     WorkIntensity     `json:"work"`
	Training TrainingFrequency `json:"training"`
	Target   Target            `json:"target"`
	Plan     Plan              `json:"plan"`
}

// Targets are the derived daily macro targets.
type Targets struct {
	Calories int `json:"calories"`
	Protein  int `json:"protein"`
	Fat      int `json:"fat"`
	Carbs    int `json:"carbs"`
}

type Goal struct {
	UserID int64 `json:"user_id"`
	Biometrics
	Targets
	MorningPlan    bool      `json:"morning_plan"`
	EveningSummary bool      `json:"evening_summary"`
	CreatedAt      time.Time `json:"created_at"`
}
