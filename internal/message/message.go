// Package message renders blood requests into channel text.
package message

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/nabd/blood-bot/internal/models"
)

const (
	contactFooter = "📞 *Direct contact:* "
	tagLine       = "#Nabd #BloodDonation"
)

var markdownReplacer = strings.NewReplacer(
	"*", " ",
	"_", " ",
	"`", " ",
	"[", " ",
	"]", " ",
)

// Clean blanks out Markdown control characters so user text cannot break
// the chat formatting.
func Clean(text string) string {
	return strings.TrimSpace(markdownReplacer.Replace(text))
}

// Composer renders requests; DefaultRegion fills in records without a region.
type Composer struct {
	DefaultRegion string
}

func NewComposer(defaultRegion string) *Composer {
	return &Composer{DefaultRegion: defaultRegion}
}

// Compose builds the chat message for a request. Output depends only on r.
func (c *Composer) Compose(r models.BloodRequest) string {
	location := Clean(c.DefaultRegion)
	if region := Clean(r.Region); region != "" {
		location = "Governorate: " + region
	}

	hospital := Clean(r.HospitalName)
	patient := Clean(r.PatientName)
	description := Clean(r.Description)
	contact := Clean(r.ContactNumber)

	var sb strings.Builder

	if r.Source == models.SourceHospital {
		sb.WriteString("🏥 *Official appeal (stock shortage)*\n\n")
		sb.WriteString(fmt.Sprintf("🏢 Hospital: %s\n", hospital))
		sb.WriteString(fmt.Sprintf("📍 Location: %s\n", location))
		sb.WriteString(fmt.Sprintf("📂 Department: %s\n\n", patient))
		sb.WriteString("⚠️ *Required units:*\n")
		if len(r.Details) > 0 {
			for i, d := range r.Details {
				if i > 0 {
					sb.WriteString("\n")
				}
				sb.WriteString(fmt.Sprintf("▫️ %s: (%d) units", d.BloodType, d.Quantity))
			}
		} else {
			quantity := r.Quantity
			if quantity <= 0 {
				quantity = 1
			}
			sb.WriteString(fmt.Sprintf("▫️ Blood type: %s\n▫️ Units required: %d", r.BloodType, quantity))
		}
		sb.WriteString("\n\n")
		if description != "" {
			sb.WriteString(fmt.Sprintf("📝 Notes: %s\n\n", description))
		}
	} else {
		sb.WriteString("🔴 *Urgent humanitarian appeal (blood request)*\n\n")
		sb.WriteString(fmt.Sprintf("👤 Patient: %s\n", patient))
		sb.WriteString(fmt.Sprintf("🩸 Blood type: %s\n", r.BloodType))
		sb.WriteString(fmt.Sprintf("🏥 Hospital: %s\n", hospital))
		sb.WriteString(fmt.Sprintf("📍 Location: %s\n\n", location))
		if description != "" {
			sb.WriteString(fmt.Sprintf("📝 Case description: %s\n\n", description))
		}
	}

	return strings.TrimSpace(sb.String()) + "\n\n" + contactFooter + contact + "\n\n" + tagLine
}

// WhatsAppURL returns a wa.me deep link. Without a number WhatsApp opens
// its contact picker.
func WhatsAppURL(number, text string) string {
	encoded := strings.ReplaceAll(url.QueryEscape(text), "+", "%20")
	number = strings.TrimPrefix(strings.TrimSpace(number), "+")
	if number == "" {
		return "https://wa.me/?text=" + encoded
	}
	return "https://wa.me/" + number + "?text=" + encoded
}
