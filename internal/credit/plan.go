package credit

import "strings"

// 用户侧套餐
const (
	PlanFree      = "free"
	PlanPro       = "pro"
	PlanHobbyist  = "hobbyist"
	PlanDeveloper = "developer"
)

// 远端套餐
const (
	BackendPlanHobbyist  = "hobbyist"
	BackendPlanDeveloper = "developer"
)

var planMapping = map[string]string{
	PlanFree:      BackendPlanHobbyist,
	PlanHobbyist:  BackendPlanHobbyist,
	PlanPro:       BackendPlanDeveloper,
	PlanDeveloper: BackendPlanDeveloper,
}

// MapPlan 用户侧套餐映射为远端套餐，未知套餐一律回落到 hobbyist
//
// 这里只影响账单展示，不做访问控制，所以任何输入都不会报错
func MapPlan(plan string) string {
	if backend, ok := planMapping[plan]; ok {
		return backend
	}
	return BackendPlanHobbyist
}

// ParsePlan 解析用户侧套餐名，大小写与首尾空白不敏感
func ParsePlan(s string) (string, bool) {
	p := strings.ToLower(strings.TrimSpace(s))
	_, ok := planMapping[p]
	return p, ok
}
