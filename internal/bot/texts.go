package bot

import "nutrition-bot/internal/models"

const (
	textWelcome = "👋 Привет! Я считаю калории и БЖУ.\n\n" +
		"Пришлите фото блюда или опишите его текстом, например: «овсянка 250 г». " +
		"Я оценю калорийность, а вы подтвердите запись.\n\n" + textCommands
	textCommands = "Команды:\n" +
		"/stats — итоги за сегодня и неделю\n" +
		"/history — дневник питания\n" +
		"/export — выгрузка в CSV\n" +
		"/goal — цель и дневная норма\n" +
		"/timezone +03:00 — часовой пояс\n" +
		"/remind evening 21:00 — напоминания\n" +
		"/trial — пробный период\n" +
		"/subscribe — подписка"
	textUnknownCommand = "Неизвестная команда. Используйте /help."
	textServerError    = "😔 Произошла ошибка на сервере. Попробуйте ещё раз."
	textPhotoFailed    = "Не удалось загрузить фото. Попробуйте отправить его ещё раз."
	textUnsupported    = "Пришлите фото блюда или опишите его текстом."
	textPaidThanks     = "Спасибо! Подписка активируется сразу после подтверждения оплаты."
	textPaidCancel     = "Оплата отменена. Оформить подписку можно в любой момент: /subscribe"

	textTimezoneUsage = "Укажите смещение от UTC, например: /timezone +03:00"
	textTimezoneSet   = "🕒 Часовой пояс сохранён: UTC%s"
	textRemindUsage   = "Формат: /remind <morning|day|evening> <ЧЧ:ММ|off>\nНапример: /remind evening 21:00"
	textRemindNeedTZ  = "Сначала укажите часовой пояс: /timezone +03:00"
	textRemindOn      = "⏰ Напоминание «%s» включено на %s."
	textRemindOff     = "🔕 Напоминание «%s» выключено."

	textTrialStarted = "🎁 Пробный период активирован на %d дн.: %d запросов и распознавание по фото."
	textTrialUsed    = "Пробный период уже был использован. Оформить подписку: /subscribe"

	textPaymentsOff   = "Оплата временно недоступна."
	textChoosePlan    = "Выберите тариф и срок:"
	textCheckout      = "Нажмите на кнопку ниже, чтобы перейти к оплате:"
	textPayButton     = "💳 Оплатить"
	textCheckoutError = "Не удалось создать платёжную сессию. Попробуйте позже."
	textPaymentDone   = "✅ Оплата получена! Тариф «%s» активен до %s."

	textNoMeals    = "Пока нет записей."
	textExportNote = "Все ваши записи"
	textEarlier    = "⬅️ Раньше"
	textLater      = "Позже ➡️"

	textGoalStopped = "Цель отключена."
	textGoalShow    = "%s\n\nПересчитать: /goal new\nОтключить: /goal_stop"
	textGoalSaved   = "✅ Цель сохранена.\n\n%s\n\nУтром пришлю план, вечером итоги. Время напоминаний: /remind"
	textGoalFailed  = "Не удалось рассчитать норму по этим данным. Давайте заново: /goal"
	textFormCancel  = "Заполнение отменено."
)

var gradeNames = map[models.Grade]string{
	models.GradeFree:       "Бесплатный",
	models.GradeTrialLight: "Пробный Light",
	models.GradeTrialPro:   "Пробный Pro",
	models.GradePaidLight:  "Light",
	models.GradePaidPro:    "Pro",
}

var reminderNames = map[models.ReminderKind]string{
	models.ReminderMorning: "утро",
	models.ReminderDay:     "день",
	models.ReminderEvening: "вечер",
}
