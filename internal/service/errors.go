package service

import "errors"

var (
	// ErrNotConfigured 用户未关联远端账户，需要先完成设置，不算错误
	ErrNotConfigured = errors.New("未关联远端账户")
	// ErrBackendUnavailable 远端余额未知，本地不做任何写入
	ErrBackendUnavailable = errors.New("远端账户服务暂不可用")
	// ErrDuplicateEvent 回调事件或支付已经处理过
	ErrDuplicateEvent = errors.New("事件已处理")
	// ErrPaymentPastDue 订阅欠费期间不允许变更套餐
	ErrPaymentPastDue = errors.New("订阅欠费，请先处理未付账单")
	ErrInvalidEvent   = errors.New("无效的回调事件")
	ErrInvalidPlan    = errors.New("无效的套餐")
	ErrInvalidAmount  = errors.New("额度必须大于等于0")
	ErrInvalidAccount = errors.New("无效的远端账户")
	// ErrInvalidTransition 订阅状态不允许这样流转
	ErrInvalidTransition = errors.New("订阅状态流转不合法")
	ErrBusy              = errors.New("系统繁忙，请稍后重试")
)
