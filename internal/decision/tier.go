package decision

import (
	"encoding/json"
	"fmt"
)

// Level is the approval tier of a decision. Levels are strictly ordered:
// higher values demand stricter sign-off.
type Level int

const (
	LevelAutoExecute Level = iota
	LevelAuditLog
	LevelManagerApproval
	LevelExecutiveApproval
)

// Score sub-ranges per level. Together they cover [0,100] with no overlap.
const (
	auditLogMin  = 20
	managerMin   = 40
	executiveMin = 70
)

// ResolveLevel maps a risk score to its approval tier. Total over [0,100]
// and monotonic: a higher score never yields a looser tier.
func ResolveLevel(score int) Level {
	switch {
	case score < auditLogMin:
		return LevelAutoExecute
	case score < managerMin:
		return LevelAuditLog
	case score < executiveMin:
		return LevelManagerApproval
	default:
		return LevelExecutiveApproval
	}
}

// RequiresApproval reports whether the tier needs human sign-off before
// execution.
func (l Level) RequiresApproval() bool {
	return l >= LevelManagerApproval
}

func (l Level) String() string {
	switch l {
	case LevelAutoExecute:
		return "auto_execute"
	case LevelAuditLog:
		return "audit_log"
	case LevelManagerApproval:
		return "manager_approval"
	case LevelExecutiveApproval:
		return "executive_approval"
	default:
		return fmt.Sprintf("level(%d)", int(l))
	}
}

// ParseLevel converts the wire representation back to a Level.
func ParseLevel(s string) (Level, error) {
	switch s {
	case "auto_execute":
		return LevelAutoExecute, nil
	case "audit_log":
		return LevelAuditLog, nil
	case "manager_approval":
		return LevelManagerApproval, nil
	case "executive_approval":
		return LevelExecutiveApproval, nil
	default:
		return 0, fmt.Errorf("unknown approval level %q", s)
	}
}

func (l Level) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.String())
}

func (l *Level) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	lvl, err := ParseLevel(s)
	if err != nil {
		return err
	}
	*l = lvl
	return nil
}
