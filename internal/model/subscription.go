package model

const (
	SubscriptionInactive = "inactive"
	SubscriptionActive   = "active"
	SubscriptionPastDue  = "past_due"
	SubscriptionCanceled = "canceled"
)

var ValidSubscriptionTransitions = map[string][]string{
	SubscriptionInactive: {SubscriptionActive},
	SubscriptionActive:   {SubscriptionPastDue, SubscriptionCanceled},
	SubscriptionPastDue:  {SubscriptionActive, SubscriptionCanceled},
	SubscriptionCanceled: {SubscriptionActive},
}

// CanTransitionTo 状态相同视为合法（重复投递的事件不报错）
func CanTransitionTo(currentStatus, targetStatus string) bool {
	if currentStatus == targetStatus {
		return true
	}
	allowedStatuses, exists := ValidSubscriptionTransitions[currentStatus]
	if !exists {
		return false
	}
	for _, s := range allowedStatuses {
		if s == targetStatus {
			return true
		}
	}
	return false
}

// AllowsPlanChange 欠费状态下不允许变更套餐，必须先处理未付账单
func AllowsPlanChange(status string) bool {
	return status != SubscriptionPastDue
}
