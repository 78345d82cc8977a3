package pixbuf

// Credential is the backend session a request acts under.  It is resolved per
// request and never shared between requests.
type Credential struct {
	SessionKey string
	UserID     int64
	GroupIDs   []int64
	Admin      bool
}

// InGroup reports whether the credential's user belongs to the group.
func (c Credential) InGroup(group int64) bool {
	for _, g := range c.GroupIDs {
		if g == group {
			return true
		}
	}
	return false
}

// Clone returns a copy that shares no memory with c.
func (c Credential) Clone() Credential {
	out := c
	if c.GroupIDs != nil {
		out.GroupIDs = append([]int64(nil), c.GroupIDs...)
	}
	return out
}
