package core

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mikey/email-agent/internal/utils"
)

// ClassificationPrompt is the instruction given to every LLM provider
const ClassificationPrompt = `You are an email classification expert. Your goal is to sort emails so they can be filed efficiently.

PRIORITY RULES:
1. "invoice" and "receipt" take priority when the email carries proof of purchase or payment, even inside a professional exchange.
2. "spam" takes priority when the content is clearly unwanted.
3. When an email fits several categories, pick the one most specific to its main content.

Available categories:
- invoice: invoices and payment requests (amounts, VAT, IBAN, or an invoice attachment)
- receipt: receipts, order or payment confirmations
- document: shared files and documents without a financial context
- professional: work conversations, meetings, projects, HR
- newsletter: recurring editorial content
- promotion: commercial offers, ads, discounts
- social: social network notifications
- notification: system alerts and automatic confirmations (account creation, security)
- personal: family, friends, non-work context
- spam: scams, phishing, junk

OUTPUT INSTRUCTIONS:
- Respond ONLY with a valid JSON object.
- Do not write any text before or after the JSON.
- Do not use markdown fences.

EXPECTED OUTPUT EXAMPLE:
{"category": "invoice", "confidence": 95, "reason": "The email has an attachment named invoice_001.pdf and mentions an amount due."}

EMAIL TO CLASSIFY:
---
Sender: %s
Subject: %s
Body (preview): %s
Has attachments: %t
---`

// BuildClassificationPrompt renders the prompt for one email. The body is
// expected to be truncated by the caller.
func BuildClassificationPrompt(req *ClassificationRequest, body string) string {
	return fmt.Sprintf(ClassificationPrompt, req.Sender, req.Subject, body, req.HasAttachments)
}

type classificationResponse struct {
	Category   string   `json:"category"`
	Confidence *float64 `json:"confidence"`
	Reason     string   `json:"reason"`
}

// ParseClassificationResponse turns raw model output into a result. Unknown
// category names map to UNKNOWN; confidence defaults to 50 and is clamped to
// 0..100. Output without a decodable JSON object yields ErrUnparseableResponse.
func ParseClassificationResponse(text string) (*ClassificationResult, error) {
	text = strings.TrimSpace(text)
	raw, ok := utils.ExtractJSONObject(text)
	if !ok {
		return nil, fmt.Errorf("%w: no JSON object found", ErrUnparseableResponse)
	}

	var resp classificationResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnparseableResponse, err)
	}

	category, ok := ParseCategory(resp.Category)
	if !ok {
		category = CategoryUnknown
	}

	confidence := 50
	if resp.Confidence != nil {
		confidence = int(*resp.Confidence)
	}
	confidence = min(100, max(0, confidence))

	reason := resp.Reason
	if reason == "" {
		reason = "No reason provided"
	}

	return &ClassificationResult{
		Category:   category,
		Confidence: confidence,
		Reason:     reason,
	}, nil
}
