package watch

import (
	"fmt"
	"time"

	"github.com/interpark/mikage/internal/database"
	"github.com/interpark/mikage/internal/notify"
)

// NoInternetCode marks a probe failure caused by our own outbound
// connectivity being down rather than by the target. Outcomes carrying it
// are never classified as actionable errors.
const NoInternetCode = "NO_INTERNET"

// Outcome is the result of probing one target once.
type Outcome struct {
	Key           string    `json:"key"`
	Name          string    `json:"name"`
	ResponseTime  *int64    `json:"responseTime"`
	StatusCode    *int      `json:"statusCode"`
	StatusMessage *string   `json:"statusMessage"`
	ErrorName     *string   `json:"errorName"`
	ErrorCode     *string   `json:"errorCode"`
	ObservedAt    time.Time `json:"observedAt"`
}

// IsActionableError reports whether this outcome should count toward a
// group's incident: any non-200 status, or an application-level error code.
// Outcomes stamped with the NO_INTERNET self-check marker never count.
func (o *Outcome) IsActionableError() bool {
	if o.ErrorCode != nil && *o.ErrorCode == NoInternetCode {
		return false
	}
	if o.StatusCode == nil || *o.StatusCode != 200 {
		return true
	}
	return o.ErrorCode != nil
}

// IsProbeFailure reports whether the probe itself failed at the network
// level (as opposed to a completed HTTP response).
func (o *Outcome) IsProbeFailure() bool {
	return o.ErrorName != nil && o.StatusCode != nil &&
		(*o.StatusCode == 408 || *o.StatusCode == 520)
}

// ToLog converts the outcome to its append-only log row.
func (o *Outcome) ToLog() database.Log {
	return database.Log{
		TargetKey:     o.Key,
		CreatedAt:     o.ObservedAt,
		ResponseTime:  o.ResponseTime,
		StatusCode:    o.StatusCode,
		StatusMessage: o.StatusMessage,
		ErrorName:     o.ErrorName,
		ErrorCode:     o.ErrorCode,
	}
}

// ChatItem formats the outcome for a chat notification card.
func (o *Outcome) ChatItem() notify.ErrorItem {
	item := notify.ErrorItem{Name: o.Name}

	if o.ResponseTime != nil {
		item.ResponseTime = fmt.Sprintf("%d ms", *o.ResponseTime)
	} else {
		item.ResponseTime = "- ms"
	}

	status := "-"
	if o.StatusCode != nil {
		status = fmt.Sprintf("%d", *o.StatusCode)
	}
	message := ""
	if o.StatusMessage != nil {
		message = *o.StatusMessage
	}
	item.Status = fmt.Sprintf("%s %s", status, message)

	code, name := "-", "-"
	if o.ErrorCode != nil {
		code = *o.ErrorCode
	}
	if o.ErrorName != nil {
		name = *o.ErrorName
	}
	item.Error = fmt.Sprintf("%s %s", code, name)

	return item
}

func chatItems(outcomes []Outcome) []notify.ErrorItem {
	items := make([]notify.ErrorItem, len(outcomes))
	for i := range outcomes {
		items[i] = outcomes[i].ChatItem()
	}
	return items
}
