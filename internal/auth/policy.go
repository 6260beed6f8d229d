package auth

// ValidateFunc decides whether a raw header value is acceptable.
type ValidateFunc func(headerValue string) bool

// Policy is the resolved authorization rule for one space. It is one of
// None, KeyValue, Predicate or Deny; the set is closed.
type Policy interface {
	isPolicy()
}

// None authorizes every event.
type None struct{}

// KeyValue requires HeaderKey to carry one of AllowedValues. A single
// allowed value is an exact-match requirement.
type KeyValue struct {
	HeaderKey     string
	AllowedValues []string
}

// Predicate requires HeaderKey to be present and accepted by Validate.
// A nil Validate rejects everything.
type Predicate struct {
	HeaderKey string
	Validate  ValidateFunc
}

// Deny rejects every event. Unrecognized auth configuration resolves here.
type Deny struct {
	Reason string
}

func (None) isPolicy()      {}
func (KeyValue) isPolicy()  {}
func (Predicate) isPolicy() {}
func (Deny) isPolicy()      {}

// Allows reports whether value is one of the allowed values.
func (p KeyValue) Allows(value string) bool {
	if len(p.AllowedValues) == 1 {
		return p.AllowedValues[0] == value
	}
	for _, v := range p.AllowedValues {
		if v == value {
			return true
		}
	}
	return false
}
