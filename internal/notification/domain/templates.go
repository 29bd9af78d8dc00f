package domain

import (
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// Canned notices for workflow events. Keeping the wording here means every
// emitter produces the same user-facing copy.

func WelcomeNotice(userID snowflake.ID, credits decimal.Decimal) EmitRequest {
	return EmitRequest{
		UserID:  userID,
		Type:    TypeSuccess,
		Title:   "Welcome to Mivvo Expertiz",
		Message: fmt.Sprintf("Your account is ready. %s starter credits have been added.", credits.StringFixed(0)),
		Data:    map[string]any{"credits": credits.String()},
	}
}

func CreditAddedNotice(userID snowflake.ID, amount, balance decimal.Decimal) EmitRequest {
	return EmitRequest{
		UserID:  userID,
		Type:    TypeSuccess,
		Title:   "Credits added",
		Message: fmt.Sprintf("%s credits were added to your account. New balance: %s.", amount.StringFixed(0), balance.StringFixed(0)),
		Data:    map[string]any{"amount": amount.String(), "balance": balance.String()},
	}
}

func CreditsRefundedNotice(userID snowflake.ID, amount, balance decimal.Decimal) EmitRequest {
	return EmitRequest{
		UserID:  userID,
		Type:    TypeInfo,
		Title:   "Credits refunded",
		Message: fmt.Sprintf("%s credits were refunded to your account. New balance: %s.", amount.StringFixed(0), balance.StringFixed(0)),
		Data:    map[string]any{"amount": amount.String(), "balance": balance.String()},
	}
}

func ReportProcessingNotice(userID, reportID snowflake.ID, reportType string) EmitRequest {
	return EmitRequest{
		UserID:    userID,
		Type:      TypeInfo,
		Title:     "Report processing",
		Message:   fmt.Sprintf("Your %s report is being processed.", reportTypeLabel(reportType)),
		Data:      map[string]any{"report_id": reportID.String(), "report_type": reportType},
		ActionURL: "/reports/" + reportID.String(),
	}
}

func ReportCompletedNotice(userID, reportID snowflake.ID, reportType string) EmitRequest {
	return EmitRequest{
		UserID:    userID,
		Type:      TypeSuccess,
		Title:     "Report ready",
		Message:   fmt.Sprintf("Your %s report is ready to view.", reportTypeLabel(reportType)),
		Data:      map[string]any{"report_id": reportID.String(), "report_type": reportType},
		ActionURL: "/reports/" + reportID.String(),
	}
}

func ReportFailedNotice(userID, reportID snowflake.ID, reportType string, refunded bool) EmitRequest {
	msg := fmt.Sprintf("Your %s report could not be completed.", reportTypeLabel(reportType))
	if refunded {
		msg += " Your credits have been refunded."
	}
	return EmitRequest{
		UserID:    userID,
		Type:      TypeError,
		Title:     "Report failed",
		Message:   msg,
		ActionURL: "/reports/" + reportID.String(),
		Data: map[string]any{
			"report_id":   reportID.String(),
			"report_type": reportType,
			"refunded":    refunded,
		},
	}
}

func reportTypeLabel(reportType string) string {
	switch reportType {
	case "paint_analysis":
		return "paint analysis"
	case "damage_assessment":
		return "damage assessment"
	case "engine_sound_analysis":
		return "engine sound analysis"
	case "value_estimation":
		return "value estimation"
	case "full_report":
		return "full vehicle"
	default:
		return reportType
	}
}
