package tools

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// AppointmentArgs are the arguments for the book_appointment tool.
type AppointmentArgs struct {
	CustomerName string `json:"customer_name" jsonschema:"description=The customer's full name"`
	Date         string `json:"date" jsonschema:"description=Appointment date in YYYY-MM-DD format"`
	Time         string `json:"time" jsonschema:"description=Appointment time in HH:MM format (24-hour)"`
	ServiceType  string `json:"service_type" jsonschema:"description=Type of service or meeting (e.g. consultation, support, demo)"`
	Phone        string `json:"phone,omitempty" jsonschema:"description=Customer's phone number"`
}

// Appointment is one confirmed booking.
type Appointment struct {
	AppointmentID string `json:"appointment_id"`
	CustomerName  string `json:"customer_name"`
	Date          string `json:"date"`
	Time          string `json:"time"`
	ServiceType   string `json:"service_type"`
	Phone         string `json:"phone"`
	BookingStatus string `json:"status"`
}

// AppointmentResult is the tool output returned to the model.
type AppointmentResult struct {
	Success       bool         `json:"success"`
	Message       string       `json:"message"`
	AppointmentID string       `json:"appointment_id,omitempty"`
	Details       *Appointment `json:"details,omitempty"`
}

// AppointmentBook records confirmed bookings. It stands in for a calendar
// service integration and is safe for concurrent sessions.
type AppointmentBook struct {
	mu     sync.Mutex
	booked []Appointment
}

// Booked returns a copy of all confirmed appointments.
func (b *AppointmentBook) Booked() []Appointment {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Appointment(nil), b.booked...)
}

func (b *AppointmentBook) add(a Appointment) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.booked = append(b.booked, a)
}

// NewAppointmentBooking builds the book_appointment tool over the given
// book.
func NewAppointmentBooking(book *AppointmentBook) Tool {
	return New("book_appointment",
		"Books an appointment for the customer. Use this when the user wants to schedule a meeting, consultation, or service.",
		func(ctx context.Context, args AppointmentArgs) (any, error) {
			if args.CustomerName == "" || args.Date == "" || args.Time == "" || args.ServiceType == "" {
				return AppointmentResult{
					Success: false,
					Message: "Missing required fields for appointment booking",
				}, nil
			}
			if _, err := time.Parse("2006-01-02", args.Date); err != nil {
				return AppointmentResult{
					Success: false,
					Message: "Invalid date format. Use YYYY-MM-DD.",
				}, nil
			}
			if _, err := time.Parse("15:04", args.Time); err != nil {
				return AppointmentResult{
					Success: false,
					Message: "Invalid time format. Use HH:MM (24-hour).",
				}, nil
			}

			phone := args.Phone
			if phone == "" {
				phone = "Not provided"
			}
			appt := Appointment{
				AppointmentID: "APT-" + time.Now().UTC().Format("20060102150405.000000000"),
				CustomerName:  args.CustomerName,
				Date:          args.Date,
				Time:          args.Time,
				ServiceType:   args.ServiceType,
				Phone:         phone,
				BookingStatus: "confirmed",
			}
			book.add(appt)

			return AppointmentResult{
				Success:       true,
				Message:       fmt.Sprintf("Appointment successfully booked for %s on %s at %s", args.CustomerName, args.Date, args.Time),
				AppointmentID: appt.AppointmentID,
				Details:       &appt,
			}, nil
		})
}
