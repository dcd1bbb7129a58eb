package tools

import (
	"context"

	"github.com/callgrid/voicegate/internal/emailer"
)

// EmailSummaryArgs are the arguments for the send_email_summary tool.
type EmailSummaryArgs struct {
	Email   string `json:"email" jsonschema:"description=The recipient's email address"`
	Summary string `json:"summary" jsonschema:"description=A concise summary of the call conversation including key points discussed"`
}

// EmailSummaryResult is the tool output returned to the model.
type EmailSummaryResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// NewEmailSummary builds the send_email_summary tool. callID is stamped on
// the outgoing email so summaries can be traced back to their session.
func NewEmailSummary(sender emailer.Sender, callID string) Tool {
	return New("send_email_summary",
		"Sends an email with a summary of the call conversation. Use this when the user requests a summary or when the call is ending.",
		func(ctx context.Context, args EmailSummaryArgs) (any, error) {
			if args.Email == "" || args.Summary == "" {
				return EmailSummaryResult{Success: false, Message: "Email and summary are required"}, nil
			}
			if err := sender.SendSummary(ctx, args.Email, "Call Summary", args.Summary, callID); err != nil {
				return EmailSummaryResult{Success: false, Message: "Failed to send email"}, nil
			}
			return EmailSummaryResult{Success: true, Message: "Email sent successfully"}, nil
		})
}
