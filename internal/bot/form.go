package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"nutrition-bot/internal/capture"
	"nutrition-bot/internal/delivery"
	"nutrition-bot/internal/goal"
	"nutrition-bot/internal/models"
)

// Goal setup form states.
const (
	StateGender   = "gender"
	StateAge      = "age"
	StateHeight   = "height"
	StateWeight   = "weight"
	StateBodyFat  = "bodyfat"
	StateWork     = "work"
	StateTraining = "training"
	StateTarget   = "target"
	StatePlan     = "plan"
	StateConfirm  = "confirm"
)

var formOrder = []string{
	StateGender, StateAge, StateHeight, StateWeight, StateBodyFat,
	StateWork, StateTraining, StateTarget, StatePlan, StateConfirm,
}

const (
	answerSkip = "skip"
	answerYes  = "yes"
	answerNo   = "no"
)

type option struct {
	label string
	value string
}

type formStep struct {
	prompt  string
	invalid string
	options []option
	// freeText accepts typed answers besides the options.
	freeText bool
	apply    func(b *models.Biometrics, input string) bool
}

var formSteps = map[string]formStep{
	StateGender: {
		prompt:  "Давайте рассчитаем вашу дневную норму. Укажите пол:",
		invalid: "Пожалуйста, выберите пол с помощью кнопок ниже.",
		options: []option{{"Мужской", string(models.GenderMale)}, {"Женский", string(models.GenderFemale)}},
		apply: func(b *models.Biometrics, in string) bool {
			b.Gender = models.Gender(in)
			return true
		},
	},
	StateAge: {
		prompt:   "Сколько вам полных лет?",
		invalid:  "Пожалуйста, введите возраст числом, например 30.",
		freeText: true,
		apply: func(b *models.Biometrics, in string) bool {
			v, ok := parseMeasure(in, goal.AgeRange)
			b.Age = int(v)
			return ok
		},
	},
	StateHeight: {
		prompt:   "Укажите ваш рост в сантиметрах (например, 175):",
		invalid:  "Пожалуйста, введите корректный рост в сантиметрах (например, 175).",
		freeText: true,
		apply: func(b *models.Biometrics, in string) bool {
			v, ok := parseMeasure(in, goal.HeightRange)
			b.HeightCm = v
			return ok
		},
	},
	StateWeight: {
		prompt:   "Укажите ваш вес в килограммах (например, 70):",
		invalid:  "Пожалуйста, введите корректный вес в килограммах (например, 70).",
		freeText: true,
		apply: func(b *models.Biometrics, in string) bool {
			v, ok := parseMeasure(in, goal.WeightRange)
			b.WeightKg = v
			return ok
		},
	},
	StateBodyFat: {
		prompt:   "Если знаете процент жира в теле, введите его (например, 18). Иначе нажмите «Пропустить».",
		invalid:  "Введите процент жира от 3 до 60 или нажмите «Пропустить».",
		options:  []option{{"Пропустить", answerSkip}},
		freeText: true,
		apply: func(b *models.Biometrics, in string) bool {
			if in == answerSkip {
				b.BodyFat = nil
				return true
			}
			v, ok := parseMeasure(in, goal.BodyFatRange)
			b.BodyFat = &v
			return ok
		},
	},
	StateWork: {
		prompt:  "Насколько активна ваша работа?",
		invalid: "Пожалуйста, выберите вариант с помощью кнопок ниже.",
		options: []option{
			{"Сидячая", string(models.WorkSedentary)},
			{"Лёгкая", string(models.WorkLight)},
			{"Умеренная", string(models.WorkModerate)},
			{"Тяжёлая", string(models.WorkHeavy)},
		},
		apply: func(b *models.Biometrics, in string) bool {
			b.Work = models.WorkIntensity(in)
			return true
		},
	},
	StateTraining: {
		prompt:  "Сколько тренировок в неделю?",
		invalid: "Пожалуйста, выберите вариант с помощью кнопок ниже.",
		options: []option{
			{"Нет", string(models.TrainingNone)},
			{"1–2", string(models.TrainingLow)},
			{"3–4", string(models.TrainingMedium)},
			{"5+", string(models.TrainingHigh)},
		},
		apply: func(b *models.Biometrics, in string) bool {
			b.Training = models.TrainingFrequency(in)
			return true
		},
	},
	StateTarget: {
		prompt:  "Какая у вас цель?",
		invalid: "Пожалуйста, выберите цель с помощью кнопок ниже.",
		options: []option{
			{"Снизить вес", string(models.TargetLoss)},
			{"Поддерживать вес", string(models.TargetMaintain)},
			{"Набрать вес", string(models.TargetGain)},
		},
		apply: func(b *models.Biometrics, in string) bool {
			b.Target = models.Target(in)
			if b.Target == models.TargetMaintain {
				b.Plan = ""
			}
			return true
		},
	},
	StatePlan: {
		prompt:  "Выберите темп:",
		invalid: "Пожалуйста, выберите темп с помощью кнопок ниже.",
		options: []option{
			{"Мягкий", string(models.PlanMild)},
			{"Стандартный", string(models.PlanStandard)},
			{"Интенсивный", string(models.PlanAggressive)},
		},
		apply: func(b *models.Biometrics, in string) bool {
			b.Plan = models.Plan(in)
			return true
		},
	},
}

// parseMeasure reads a number such as "72,5" and checks it against r.
func parseMeasure(in string, r goal.Range) (float64, bool) {
	v, err := strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(in), ",", "."), 64)
	if err != nil {
		return 0, false
	}
	return v, r.Contains(v)
}

// accepts reports whether input names one of the step's options.
func (s formStep) accepts(input string) bool {
	if s.freeText {
		return true
	}
	for _, o := range s.options {
		if o.value == input {
			return true
		}
	}
	return false
}

// canonical maps a typed option label onto its value.
func (s formStep) canonical(input string) string {
	for _, o := range s.options {
		if strings.EqualFold(o.label, input) {
			return o.value
		}
	}
	return input
}

func (s formStep) keyboard() delivery.Keyboard {
	if len(s.options) == 0 {
		return nil
	}
	row := make([]delivery.Button, 0, len(s.options))
	for _, o := range s.options {
		row = append(row, delivery.Button{Text: o.label, Data: formData(o.value)})
	}
	return delivery.Keyboard{row}
}

// nextState returns the step after cur. Maintenance skips the plan.
func nextState(cur string, b models.Biometrics) string {
	for i, s := range formOrder {
		if s != cur || i+1 == len(formOrder) {
			continue
		}
		next := formOrder[i+1]
		if next == StatePlan && b.Target == models.TargetMaintain {
			next = StateConfirm
		}
		return next
	}
	return StateConfirm
}

func (t *TelegramBot) formState(userID int64) string {
	t.stateMutex.Lock()
	defer t.stateMutex.Unlock()
	if st, ok := t.userStates[userID]; ok {
		return st.CurrentState
	}
	return ""
}

func (t *TelegramBot) clearForm(userID int64) {
	t.stateMutex.Lock()
	delete(t.userStates, userID)
	t.stateMutex.Unlock()
}

func (t *TelegramBot) startForm(ctx context.Context, src capture.Source) {
	t.stateMutex.Lock()
	t.userStates[src.UserID] = &models.UserState{
		TelegramID:   src.UserID,
		CurrentState: StateGender,
		UpdatedAt:    t.now(),
	}
	t.stateMutex.Unlock()

	step := formSteps[StateGender]
	t.reply(ctx, src.ChatID, step.prompt, step.keyboard())
}

// advanceForm applies one answer, from a typed message or a button, to the
// current step and asks the next question.
func (t *TelegramBot) advanceForm(ctx context.Context, src capture.Source, input string) error {
	input = strings.TrimSpace(input)

	t.stateMutex.Lock()
	st, ok := t.userStates[src.UserID]
	if !ok {
		t.stateMutex.Unlock()
		return nil
	}
	state := *st
	t.stateMutex.Unlock()

	if state.CurrentState == StateConfirm {
		return t.confirmForm(ctx, src, state, input)
	}

	step := formSteps[state.CurrentState]
	input = step.canonical(input)
	if !step.accepts(input) || !step.apply(&state.Draft, input) {
		t.reply(ctx, src.ChatID, step.invalid, step.keyboard())
		return nil
	}

	state.CurrentState = nextState(state.CurrentState, state.Draft)
	state.UpdatedAt = t.now()
	t.stateMutex.Lock()
	t.userStates[src.UserID] = &state
	t.stateMutex.Unlock()

	if state.CurrentState == StateConfirm {
		targets, err := goal.ComputeTargets(state.Draft)
		if err != nil {
			t.logger.Warnw("Goal form produced invalid biometrics", "user_id", src.UserID, "error", err)
			t.clearForm(src.UserID)
			t.reply(ctx, src.ChatID, textGoalFailed, nil)
			return nil
		}
		t.reply(ctx, src.ChatID, formSummary(state.Draft, targets), confirmFormKeyboard())
		return nil
	}

	next := formSteps[state.CurrentState]
	t.reply(ctx, src.ChatID, next.prompt, next.keyboard())
	return nil
}

func (t *TelegramBot) confirmForm(ctx context.Context, src capture.Source, state models.UserState, input string) error {
	switch strings.ToLower(input) {
	case answerNo, "нет":
		t.startForm(ctx, src)
		return nil
	case answerYes, "да":
	default:
		t.reply(ctx, src.ChatID, "Пожалуйста, выберите один из вариантов ответа.", confirmFormKeyboard())
		return nil
	}

	targets, err := goal.ComputeTargets(state.Draft)
	if err != nil {
		t.clearForm(src.UserID)
		t.reply(ctx, src.ChatID, textGoalFailed, nil)
		return nil
	}
	g := &models.Goal{
		UserID:         src.UserID,
		Biometrics:     state.Draft,
		Targets:        targets,
		MorningPlan:    true,
		EveningSummary: true,
		CreatedAt:      t.now(),
	}
	if err := t.store.SaveGoal(ctx, g); err != nil {
		return fmt.Errorf("save goal: %w", err)
	}
	t.clearForm(src.UserID)

	t.logger.Infow("Goal saved", "user_id", src.UserID, "calories", targets.Calories)
	t.reply(ctx, src.ChatID, fmt.Sprintf(textGoalSaved, goal.TargetsText(targets)), nil)
	return nil
}

func confirmFormKeyboard() delivery.Keyboard {
	return delivery.Keyboard{delivery.Row(
		delivery.Button{Text: "Да, всё верно", Data: formData(answerYes)},
		delivery.Button{Text: "Нет, изменить", Data: formData(answerNo)},
	)}
}

var (
	genderLabels = map[models.Gender]string{models.GenderMale: "мужской", models.GenderFemale: "женский"}
	targetLabels = map[models.Target]string{
		models.TargetLoss:     "снизить вес",
		models.TargetMaintain: "поддерживать вес",
		models.TargetGain:     "набрать вес",
	}
)

func formSummary(b models.Biometrics, t models.Targets) string {
	var s strings.Builder
	s.WriteString("Давайте проверим введенные данные:\n\n")
	fmt.Fprintf(&s, "Пол: %s\nВозраст: %d\nРост: %.0f см\nВес: %.1f кг\n", genderLabels[b.Gender], b.Age, b.HeightCm, b.WeightKg)
	if b.BodyFat != nil {
		fmt.Fprintf(&s, "Жир: %.1f%%\n", *b.BodyFat)
	}
	fmt.Fprintf(&s, "Цель: %s\n\n", targetLabels[b.Target])
	s.WriteString(goal.TargetsText(t))
	s.WriteString("\n\nВсё верно?")
	return s.String()
}
