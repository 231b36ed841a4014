package constants

// Response messages shared by the HTTP handlers
const (
	// MsgProcessFailed is returned for any decode, fetch or store failure
	MsgProcessFailed = "could not process image"

	// MsgLoginFailed is returned for unknown users and wrong passwords alike
	MsgLoginFailed = "Wrong username or password, please try again"

	// MsgLoginOK accompanies a freshly issued token
	MsgLoginOK = "Successfully logged in"

	// MsgRegisterFailed is returned when an account cannot be created
	MsgRegisterFailed = "Could not create a new user, please try again"

	// MsgRegisterOK confirms a new account
	MsgRegisterOK = "Successfully created a new user"
)

// Login rate limiting
const (
	// LoginRatePerMinute is the sustained number of login attempts allowed per client IP
	LoginRatePerMinute = 10

	// LoginBurst is the number of attempts allowed in a burst
	LoginBurst = 5
)
