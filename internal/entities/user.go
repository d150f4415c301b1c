package entities

// LoginData holds the credentials used for phone sign-in
type LoginData struct {
	Phone    string `json:"phone"`
	Password string `json:"password"`
}

// User is the subset of the identity provider's user returned after login
type User struct {
	ID        string `json:"id"`
	Email     string `json:"email,omitempty"`
	Phone     string `json:"phone,omitempty"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// LoginResult is returned by a successful sign-in
type LoginResult struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}

// UserInfo is the profile shown for the signed-in account
type UserInfo struct {
	Avatar           string `json:"avatar,omitempty"`
	Job              string `json:"job,omitempty"`
	Organization     string `json:"organization,omitempty"`
	Location         string `json:"location,omitempty"`
	Email            string `json:"email,omitempty"`
	Introduction     string `json:"introduction,omitempty"`
	PersonalWebsite  string `json:"personalWebsite,omitempty"`
	JobName          string `json:"jobName,omitempty"`
	OrganizationName string `json:"organizationName,omitempty"`
	LocationName     string `json:"locationName,omitempty"`
	Phone            string `json:"phone,omitempty"`
	RegistrationDate string `json:"registrationDate,omitempty"`
	AccountID        string `json:"accountId,omitempty"`
	Certification    int    `json:"certification,omitempty"`
	Role             string `json:"role"`
}
