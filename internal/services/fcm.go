package services

import (
	"context"
	"encoding/base64"
	"fmt"
	"log"

	"attendance-backend/internal/attendance"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"
)

// FCMService handles Firebase Cloud Messaging
type FCMService struct {
	client *messaging.Client
}

// NewFCMService creates a new FCM service instance from a credentials file
func NewFCMService(ctx context.Context, credentialsFile string) (*FCMService, error) {
	return newFCMService(ctx, option.WithCredentialsFile(credentialsFile))
}

// NewFCMServiceFromBase64 creates a new FCM service instance from base64-encoded credentials
// This is useful for cloud deployments (Railway, Fly.io, Render) where you can't upload files easily
func NewFCMServiceFromBase64(ctx context.Context, credentialsBase64 string) (*FCMService, error) {
	credentialsJSON, err := base64.StdEncoding.DecodeString(credentialsBase64)
	if err != nil {
		return nil, fmt.Errorf("error decoding base64 credentials: %w", err)
	}
	return newFCMService(ctx, option.WithCredentialsJSON(credentialsJSON))
}

func newFCMService(ctx context.Context, opt option.ClientOption) (*FCMService, error) {
	app, err := firebase.NewApp(ctx, nil, opt)
	if err != nil {
		return nil, fmt.Errorf("error initializing Firebase app: %w", err)
	}

	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("error getting messaging client: %w", err)
	}

	return &FCMService{client: client}, nil
}

// CheckInReminderMessage is sent when an employee arrives at the office
// without having checked in yet.
func CheckInReminderMessage(distanceText string) (title, body string, data map[string]string) {
	return "You're at the office",
		fmt.Sprintf("You are %s from the office. Don't forget to check in.", distanceText),
		map[string]string{"type": "check_in_reminder"}
}

// AttendanceRecordedMessage confirms a successful check-in or check-out.
func AttendanceRecordedMessage(action attendance.Action, rec attendance.DayRecord) (title, body string, data map[string]string) {
	data = map[string]string{
		"type":      "attendance_recorded",
		"action":    string(action),
		"record_id": rec.ID,
		"date":      rec.Date,
	}
	if action == attendance.ActionCheckOut {
		data["working_hours"] = attendance.FormatWorkingHours(rec.WorkingHours)
		return "Checked out", fmt.Sprintf("Attendance for %s is complete.", rec.Date), data
	}
	return "Checked in", fmt.Sprintf("Attendance marked for %s. Have a good day!", rec.Date), data
}

// SendMulticast sends the same message to multiple tokens
func (s *FCMService) SendMulticast(ctx context.Context, tokens []string, title, body string, data map[string]string) error {
	if len(tokens) == 0 {
		return nil
	}

	message := &messaging.MulticastMessage{
		Tokens: tokens,
		Notification: &messaging.Notification{
			Title: title,
			Body:  body,
		},
		Data: data,
		Android: &messaging.AndroidConfig{
			Priority: "high",
		},
		APNS: &messaging.APNSConfig{
			Payload: &messaging.APNSPayload{
				Aps: &messaging.Aps{
					ContentAvailable: true,
					Sound:            "default",
				},
			},
		},
	}

	response, err := s.client.SendEachForMulticast(ctx, message)
	if err != nil {
		return fmt.Errorf("error sending multicast message: %w", err)
	}

	log.Printf("✅ Multicast sent: %d success, %d failures", response.SuccessCount, response.FailureCount)
	return nil
}
