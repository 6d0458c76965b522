package relay

import "strings"

const handleSep = "/"

// Handle builds the presence value for a connection on an instance.
func Handle(instanceID, connID string) string {
	return instanceID + handleSep + connID
}

// ParseHandle splits a presence value into instance and connection ids.
func ParseHandle(h string) (instanceID, connID string, ok bool) {
	instanceID, connID, ok = strings.Cut(h, handleSep)
	if !ok || instanceID == "" || connID == "" {
		return "", "", false
	}
	return instanceID, connID, true
}
