// Package email sends operator notices for the billing service.
//
// Sender is implemented by PostmarkSender (github.com/mrz1836/postmark) for
// deployed environments and by DevSender, which drops each message as a JSON
// file for local inspection. New picks one based on whether Postmark tokens
// are configured.
package email
