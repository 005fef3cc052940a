// Package notify delivers one-time codes by email.
//
// [OTPNotifier] renders the code email and passes it to a [Sender]. Senders
// exist for Resend and MailerSend; [MultiSender] chains them so a provider
// outage falls through to the next one. [HTTPNotifier] instead forwards the
// raw code to a remote delivery endpoint such as the one httpapi serves.
//
// Destinations are logged masked. Codes are never logged.
package notify
