package identity

import "log"

// EmailSender is the outbound notification sink. Delivery is fire-and-forget
// from the caller's perspective: a send failure is logged and never fails the
// operation that triggered it, since the underlying token is already stored
// and can be resent.
type EmailSender interface {
	SendVerificationEmail(to string, verificationLink string) error
	SendPasswordResetEmail(to string, resetLink string) error
	SendStudentInviteEmail(to string, studentName string, inviteLink string) error
}

// ConsoleEmailSender is a development implementation that logs emails to console
type ConsoleEmailSender struct{}

func (c *ConsoleEmailSender) SendVerificationEmail(to string, verificationLink string) error {
	log.Printf("\n=== EMAIL: Verification ===")
	log.Printf("To: %s", to)
	log.Printf("Subject: Verify your email address")
	log.Printf("Body: Please verify your email by clicking: %s", verificationLink)
	log.Printf("===========================\n")
	return nil
}

func (c *ConsoleEmailSender) SendPasswordResetEmail(to string, resetLink string) error {
	log.Printf("\n=== EMAIL: Password Reset ===")
	log.Printf("To: %s", to)
	log.Printf("Subject: Reset your password")
	log.Printf("Body: Reset your password by clicking: %s", resetLink)
	log.Printf("==============================\n")
	return nil
}

func (c *ConsoleEmailSender) SendStudentInviteEmail(to string, studentName string, inviteLink string) error {
	log.Printf("\n=== EMAIL: Student Invite ===")
	log.Printf("To: %s", to)
	log.Printf("Subject: You're invited to join Homeroom")
	log.Printf("Body: An account for %s is waiting. Accept here: %s", studentName, inviteLink)
	log.Printf("==============================\n")
	return nil
}
