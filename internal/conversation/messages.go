package conversation

const (
	MsgEnterURL     = "Please enter the URL you wish to follow:"
	MsgEmptyURL     = "The provided URL is empty. Please enter a valid URL:"
	MsgInvalidURL   = "The provided URL is invalid. Please try again or use /cancel."
	MsgAdded        = "URL added successfully!"
	MsgAlreadyAdded = "This URL has already been added."
	MsgCapacity     = "You have reached the maximum number of URLs being tracked."
	MsgCancelled    = "Your request has been canceled."
	MsgGenericError = "An error occurred, please try again later."
)
