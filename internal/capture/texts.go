package capture

import (
	"fmt"
	"strings"

	"nutrition-bot/internal/delivery"
	"nutrition-bot/internal/models"
)

const (
	textAnalyzing      = "🔎 Анализирую..."
	textNotFood        = "🤔 Не похоже на еду. Попробуйте другое фото или описание."
	textUnavailable    = "😔 Сервис анализа временно недоступен. Попробуйте чуть позже."
	textClarify        = "Не удалось определить блюдо. Уточните название и вес, например: «борщ 300 г»."
	textNeedDigits     = "В уточнении нужны числа, например: «200 г» или «2 яйца»."
	textEditPrompt     = "✏️ Напишите уточнение с числами, например: «порция 250 г»."
	textTooManyEdits   = "Лимит уточнений исчерпан. Сохраните или удалите запись."
	textChoose         = "Нашлось несколько вариантов. Выберите подходящий:"
	textExpired        = "⌛ Сессия устарела. Отправьте блюдо ещё раз."
	textDeleted        = "🗑 Запись удалена."
	textBlocked        = "⛔ Доступ ограничен. Обратитесь в поддержку."
	textPhotoGated     = "📷 Распознавание по фото доступно в подписке. Пока можно описать блюдо текстом."
	textMonthlyLimit   = "Лимит запросов на текущий период исчерпан. Оформите подписку, чтобы продолжить."
	textDailyLimit     = "Дневной лимит запросов исчерпан. Он обновится через сутки."
	textSaveFailed     = "Не удалось сохранить запись. Попробуйте ещё раз."
	textSubscribeLabel = "💳 Подписка"
)

// SubscribeData is the callback payload that opens the subscription menu.
const SubscribeData = "subscribe"

func subscribeKeyboard() delivery.Keyboard {
	return delivery.Keyboard{delivery.Row(delivery.Button{Text: textSubscribeLabel, Data: SubscribeData})}
}

// DishCard renders a dish awaiting confirmation.
func DishCard(d models.Dish) string {
	var b strings.Builder
	icon := "🍽"
	if d.Type == models.DishDrink {
		icon = "🥤"
	}
	fmt.Fprintf(&b, "%s %s\n", icon, d.Name)
	if len(d.Ingredients) > 0 {
		fmt.Fprintf(&b, "Состав: %s\n", strings.Join(d.Ingredients, ", "))
	}
	fmt.Fprintf(&b, "Порция: %.0f г\n", d.Serving)
	fmt.Fprintf(&b, "Калории: %.0f ккал\nБелки: %.1f г\nЖиры: %.1f г\nУглеводы: %.1f г",
		d.Calories, d.Protein, d.Fat, d.Carbs)
	return b.String()
}

func confirmKeyboard(sid string) delivery.Keyboard {
	return delivery.Keyboard{
		delivery.Row(
			delivery.Button{Text: "✅ Сохранить", Data: SaveData(sid, false)},
			delivery.Button{Text: "½ Половина", Data: SaveData(sid, true)},
		),
		delivery.Row(
			delivery.Button{Text: "✏️ Уточнить", Data: "edit:" + sid},
			delivery.Button{Text: "🗑 Удалить", Data: "del:" + sid},
		),
	}
}

func deleteKeyboard(sid string) delivery.Keyboard {
	return delivery.Keyboard{delivery.Row(delivery.Button{Text: "🗑 Удалить", Data: "del:" + sid})}
}

func chooseKeyboard(sid string, candidates []models.Dish) delivery.Keyboard {
	kb := make(delivery.Keyboard, 0, len(candidates)+1)
	for i, c := range candidates {
		label := fmt.Sprintf("%s, %.0f г, %.0f ккал", c.Name, c.Serving, c.Calories)
		kb = append(kb, delivery.Row(delivery.Button{Text: label, Data: fmt.Sprintf("pick:%s:%d", sid, i)}))
	}
	return append(kb, deleteKeyboard(sid)...)
}

// SaveData builds the callback payload of a save button.
func SaveData(sid string, half bool) string {
	if half {
		return "save:" + sid + ":half"
	}
	return "save:" + sid + ":full"
}
