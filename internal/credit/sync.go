package credit

// DriftThreshold 本地与远端差值超过该值时提示用户，不影响是否同步
const DriftThreshold = 10

// Direction 同步方向
type Direction int

const (
	DirectionNone Direction = iota
	DirectionAdd
	DirectionDeduct
)

func (d Direction) String() string {
	switch d {
	case DirectionAdd:
		return "add"
	case DirectionDeduct:
		return "deduct"
	default:
		return "none"
	}
}

// Decision 同步决策结果
type Decision struct {
	SyncRequired  bool
	CreditsDiff   int64
	Direction     Direction
	DriftDetected bool
}

// Decide 比较远端额度与本地额度，决定是否需要写账
//
// 调用方必须保证 backendCredits 来自一次成功的远端查询，远端不可用时不能调用
func Decide(backendCredits, currentFrontendCredits int64, forceSync bool) Decision {
	diff := backendCredits - currentFrontendCredits
	if !forceSync && diff == 0 {
		return Decision{}
	}

	d := Decision{
		SyncRequired:  true,
		CreditsDiff:   diff,
		DriftDetected: Drift(backendCredits, currentFrontendCredits) > DriftThreshold,
	}
	switch {
	case diff > 0:
		d.Direction = DirectionAdd
	case diff < 0:
		d.Direction = DirectionDeduct
	}
	return d
}

// Drift 本地与远端余额差的绝对值
func Drift(backendCredits, currentFrontendCredits int64) int64 {
	diff := backendCredits - currentFrontendCredits
	if diff < 0 {
		return -diff
	}
	return diff
}
