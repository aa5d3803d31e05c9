package model

// User is the authenticated account holder the linking saga operates on.
// It is resolved from the backend session endpoint and read-only here.
type User struct {
	ID              string `json:"id"`
	FirstName       string `json:"firstName"`
	LastName        string `json:"lastName"`
	Email           string `json:"email"`
	RailCustomerID  string `json:"railCustomerId"`
	RailCustomerURL string `json:"railCustomerUrl"`
}

// DisplayName is the client name sent when issuing a link token.
func (u *User) DisplayName() string {
	return u.FirstName + " " + u.LastName
}
