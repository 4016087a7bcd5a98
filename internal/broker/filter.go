package broker

// FilterPolicy maps a message attribute to its accepted values. A message
// matches when every listed attribute is present with an accepted value.
// An empty policy matches everything.
type FilterPolicy map[string][]string

// Matches reports whether attrs satisfy the policy.
func (p FilterPolicy) Matches(attrs map[string]string) bool {
	for name, allowed := range p {
		v, ok := attrs[name]
		if !ok || !contains(allowed, v) {
			return false
		}
	}
	return true
}

func contains(values []string, v string) bool {
	for _, x := range values {
		if x == v {
			return true
		}
	}
	return false
}
