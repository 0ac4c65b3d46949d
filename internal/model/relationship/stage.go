package relationship

import "fmt"

// Stage 有序的关系阶段。阶段不落库，只能通过 StageFor 得到
type Stage int

const (
	FirstContact Stage = iota
	BuildingTrust
	GrowingBond
	DeepConnection
	SoulMate
	EternalBond
)

// stageFloors 保存 FirstContact 之后各阶段的信任度下限
var stageFloors = [...]struct {
	floor float64
	stage Stage
}{
	{75, EternalBond},
	{60, SoulMate},
	{45, DeepConnection},
	{30, GrowingBond},
	{15, BuildingTrust},
}

// StageFor 把信任度映射到阶段
func StageFor(trust float64) Stage {
	trust = ClampTrust(trust)
	for _, f := range stageFloors {
		if trust >= f.floor {
			return f.stage
		}
	}
	return FirstContact
}

var stageNames = [...]string{
	FirstContact:   "first_contact",
	BuildingTrust:  "building_trust",
	GrowingBond:    "growing_bond",
	DeepConnection: "deep_connection",
	SoulMate:       "soul_mate",
	EternalBond:    "eternal_bond",
}

func (s Stage) String() string {
	if s < FirstContact || s > EternalBond {
		return "unknown"
	}
	return stageNames[s]
}

// MarshalText 在 JSON 中按名称输出阶段
func (s Stage) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText 解析 MarshalText 输出的阶段名称
func (s *Stage) UnmarshalText(text []byte) error {
	for i, name := range stageNames {
		if name == string(text) {
			*s = Stage(i)
			return nil
		}
	}
	return fmt.Errorf("unknown relationship stage %q", text)
}
