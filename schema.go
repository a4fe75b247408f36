package natmap

import "github.com/huin/goupnp/scpd"

// Action names looked up in a gateway's control schema.
const (
	ActionAddAnyPortMapping = "AddAnyPortMapping"
	ActionAddPortMapping    = "AddPortMapping"
)

// Schema reports which actions a gateway service advertises.
type Schema interface {
	HasAction(name string) bool
}

// ActionSet is a Schema backed by the action names of a service description.
type ActionSet map[string]struct{}

var _ Schema = ActionSet(nil)

// NewActionSet returns an ActionSet containing names.
func NewActionSet(names ...string) ActionSet {
	s := make(ActionSet, len(names))
	for _, name := range names {
		s[name] = struct{}{}
	}
	return s
}

// ActionSetFromSCPD collects the action names of a service control protocol
// description.
func ActionSetFromSCPD(doc *scpd.SCPD) ActionSet {
	if doc == nil {
		return ActionSet{}
	}
	s := make(ActionSet, len(doc.Actions))
	for _, action := range doc.Actions {
		s[action.Name] = struct{}{}
	}
	return s
}

func (s ActionSet) HasAction(name string) bool {
	_, ok := s[name]
	return ok
}
