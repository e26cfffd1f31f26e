package protocol

import "strconv"

// Fixed response lines sent by the server.
const (
	RespAuthFailed       = "Authentication Failed:::false"
	RespAlreadyLoggedIn  = "Already logged in. Please logout first."
	RespLoggedOut        = "Logged out."
	RespGoodbye          = "Goodbye!"
	RespRemoved          = "You have been removed."
	RespLoginFirst       = "Please login first."
	RespAccessDenied     = "Access denied."
	RespUnknownCommand   = "Unknown command."
	RespMessageSent      = "Message sent."
	RespNoReceiver       = "Error: Receiver does not exist."
	RespInvalidMessage   = "Message content must be between 1 and 4096 characters."
	RespUserCreated      = "User created successfully."
	RespUserExists       = "User with the same username already exists."
	RespUserUpdated      = "User update successful."
	RespUpdateFailed     = "User update failed."
	RespUserNotFound     = "User not found."
	RespUserDeleted      = "User deleted successfully."
	RespInvalidDate      = "Invalid date format. Please use YYYY-MM-DD."
	RespInvalidAdminFlag = "Invalid admin flag. Please use true or false."
	RespInvalidField     = "Invalid field name."

	RespAuthError       = "An error occurred during authentication."
	RespInboxError      = "An error occurred while reading the inbox."
	RespOutboxError     = "An error occurred while reading the outbox."
	RespSendError       = "An error occurred while sending the message."
	RespCreateUserError = "An error occurred while creating the user."
	RespUpdateUserError = "An error occurred while updating the user."
	RespDeleteUserError = "An error occurred while deleting the user."
	RespListUsersError  = "An error occurred while listing the users."
)

const authenticatedPrefix = "Authenticated" + Delimiter

// Authenticated renders a successful LOGIN response.
func Authenticated(isAdmin bool) string {
	return authenticatedPrefix + strconv.FormatBool(isAdmin)
}

// ParseLoginResponse interprets a LOGIN response line. ok is false for
// anything other than a well-formed success line.
func ParseLoginResponse(line string) (ok bool, isAdmin bool) {
	cmd := Decode(line)
	if cmd.Verb != "Authenticated" || len(cmd.Args) != 1 {
		return false, false
	}
	admin, err := strconv.ParseBool(cmd.Args[0])
	if err != nil {
		return false, false
	}
	return true, admin
}

// InvalidArguments renders the reply to a command with the wrong number of
// arguments.
func InvalidArguments(usage string) string {
	return "Invalid arguments. Usage: " + usage
}

// InvalidUserData renders the reply to an ADDUSER or UPDATEUSER value that
// failed validation.
func InvalidUserData(reason string) string {
	return "Invalid user data: " + reason + "."
}
