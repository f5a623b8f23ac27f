package notify

// NotifierInterface delivers transient failure notices (mutation
// rollbacks, persistent load errors) to whoever is watching.
type NotifierInterface interface {
	SendAlert(subject, body string) error
}
