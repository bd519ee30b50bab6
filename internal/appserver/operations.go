package appserver

import (
	"errors"
	"sort"
)

// ErrUnknownOperation is returned for operation names with no wire mapping.
var ErrUnknownOperation = errors.New("unknown operation")

// Operation is a logical facade operation. Its value is the primary wire method.
type Operation string

const (
	OpThreadStart     Operation = "thread/start"
	OpThreadResume    Operation = "thread/resume"
	OpThreadFork      Operation = "thread/fork"
	OpThreadList      Operation = "thread/list"
	OpThreadRead      Operation = "thread/read"
	OpThreadArchive   Operation = "thread/archive"
	OpThreadUnarchive Operation = "thread/unarchive"
	OpThreadSetName   Operation = "thread/name/set"
	OpThreadRollback  Operation = "thread/rollback"
	OpTurnStart       Operation = "turn/start"
	OpTurnInterrupt   Operation = "turn/interrupt"
	OpReviewStart     Operation = "review/start"
	OpModelList       Operation = "model/list"
	OpConfigRead      Operation = "config/read"
	OpConfigWrite     Operation = "config/value/write"
	OpConfigBatch     Operation = "config/batchWrite"
	OpLoginStart      Operation = "account/login/start"
	OpLoginCancel     Operation = "account/login/cancel"
	OpLogout          Operation = "account/logout"
	OpAccountRead     Operation = "account/read"
	OpRateLimitsRead  Operation = "account/rateLimits/read"
	OpWorkbookList    Operation = "workbook/list"
	OpWorkbookSelect  Operation = "workbook/select"
	OpSkillsList      Operation = "skills/list"
	OpAppsList        Operation = "app/list"
)

// legacyMethods pairs a primary method with the name older servers used.
// The legacy name is tried once, only after the primary was rejected as unknown.
var legacyMethods = map[Operation]string{
	OpThreadSetName: "thread/setName",
	OpConfigBatch:   "config/value/batchWrite",
	OpSkillsList:    "skill/list",
	OpAppsList:      "apps/list",
}

var operations = map[Operation]bool{
	OpThreadStart:     true,
	OpThreadResume:    true,
	OpThreadFork:      true,
	OpThreadList:      true,
	OpThreadRead:      true,
	OpThreadArchive:   true,
	OpThreadUnarchive: true,
	OpThreadSetName:   true,
	OpThreadRollback:  true,
	OpTurnStart:       true,
	OpTurnInterrupt:   true,
	OpReviewStart:     true,
	OpModelList:       true,
	OpConfigRead:      true,
	OpConfigWrite:     true,
	OpConfigBatch:     true,
	OpLoginStart:      true,
	OpLoginCancel:     true,
	OpLogout:          true,
	OpAccountRead:     true,
	OpRateLimitsRead:  true,
	OpWorkbookList:    true,
	OpWorkbookSelect:  true,
	OpSkillsList:      true,
	OpAppsList:        true,
}

// ParseOperation resolves an operation by name. Legacy method names resolve
// to the operation they were renamed to.
func ParseOperation(name string) (Operation, error) {
	op := Operation(name)
	if operations[op] {
		return op, nil
	}
	for primary, legacy := range legacyMethods {
		if legacy == name {
			return primary, nil
		}
	}
	return "", ErrUnknownOperation
}

// Method returns the primary wire method.
func (o Operation) Method() string { return string(o) }

// Legacy returns the fallback wire method, if the operation has one.
func (o Operation) Legacy() (string, bool) {
	m, ok := legacyMethods[o]
	return m, ok
}

// StartsSession reports whether a successful result names a thread the
// calling surface now owns.
func (o Operation) StartsSession() bool {
	switch o {
	case OpThreadStart, OpThreadResume, OpThreadFork:
		return true
	}
	return false
}

// Operations lists every known operation in name order.
func Operations() []Operation {
	out := make([]Operation, 0, len(operations))
	for op := range operations {
		out = append(out, op)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
