package user

type User struct {
	ID         int64  `json:"id"`
	Username   string `json:"username"`
	FullName   string `json:"fullName"`
	ProfilePic string `json:"profilePic"`
	Password   string `json:"-"`
}

type RegisterRequest struct {
	Username   string `json:"username"`
	Password   string `json:"password"`
	FullName   string `json:"fullName,omitempty"`
	ProfilePic string `json:"profilePic,omitempty"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	ID          int64  `json:"id"`
	Username    string `json:"username"`
	FullName    string `json:"fullName"`
	ProfilePic  string `json:"profilePic"`
}
