package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"medsim-backend/internal/models"
	"medsim-backend/internal/session"
)

// PatientAIService renders patient dialogue through Gemini. It
// implements session.PatientOracle; oracle failures surface as errors
// and the caller persists nothing.
type PatientAIService struct {
	client   *genai.Client
	model    *genai.GenerativeModel
	rateChan chan struct{} // Token bucket
}

func NewPatientAIService(apiKey string, concurrentReqs int) (*PatientAIService, error) {
	ctx := context.Background()
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	model := client.GenerativeModel("gemini-3-flash-preview")
	model.SetTemperature(0.6)
	model.SetTopP(0.95)

	rateChan := make(chan struct{}, concurrentReqs)
	for i := 0; i < concurrentReqs; i++ {
		rateChan <- struct{}{}
	}

	return &PatientAIService{client: client, model: model, rateChan: rateChan}, nil
}

func (s *PatientAIService) Close() {
	s.client.Close()
}

// acquireRate blocks until a rate slot is available
func (s *PatientAIService) acquireRate(ctx context.Context) error {
	select {
	case <-s.rateChan:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(2 * time.Minute):
		return fmt.Errorf("timeout waiting for Gemini rate slot")
	}
}

func (s *PatientAIService) releaseRate() {
	s.rateChan <- struct{}{}
}

func (s *PatientAIService) GeneratePatientResponse(ctx context.Context, question string, dctx session.DialogueContext) (*models.PatientReply, error) {
	if err := s.acquireRate(ctx); err != nil {
		return nil, err
	}
	defer s.releaseRate()

	prompt := buildPatientPrompt(question, dctx)

	resp, err := s.model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return nil, fmt.Errorf("Gemini API error: %w", err)
	}

	raw := extractText(resp)
	if raw == "" {
		return nil, fmt.Errorf("Gemini returned an empty response")
	}

	reply, err := parsePatientReply(raw)
	if err != nil {
		log.Printf("Patient oracle returned unparseable JSON, using plain-text fallback: %v", err)
		return &models.PatientReply{
			Text:             strings.TrimSpace(raw),
			EmotionalState:   dctx.EmotionalState,
			MedicalAccuracy:  0.5,
			EducationalValue: 0.5,
		}, nil
	}
	return reply, nil
}

func buildPatientPrompt(question string, dctx session.DialogueContext) string {
	var b strings.Builder

	b.WriteString("You are role-playing a patient in a clinical training simulation.\n")
	b.WriteString("Stay in character; the learner is a medical student.\n\n")

	b.WriteString("## Patient profile\n")
	if len(dctx.Scenario.PatientProfileJSON) > 0 {
		b.Write(dctx.Scenario.PatientProfileJSON)
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Presenting condition: %s (%s)\n\n", dctx.Scenario.Title, dctx.Scenario.Specialty)

	v := dctx.PatientState.VitalSigns
	b.WriteString("## Current state\n")
	fmt.Fprintf(&b, "Virtual time: %s\n", dctx.VirtualTime)
	fmt.Fprintf(&b, "Vitals: HR %.0f, BP %.0f/%.0f, RR %.0f, SpO2 %.0f%%, Temp %.1fC, Pain %.0f/10\n",
		v.HeartRate, v.SystolicBP, v.DiastolicBP, v.RespiratoryRate, v.OxygenSaturation, v.Temperature, v.PainLevel)
	fmt.Fprintf(&b, "Mental status: %s\n", dctx.PatientState.MentalStatus)
	fmt.Fprintf(&b, "Emotional state: %s\n", dctx.EmotionalState)
	if len(dctx.PatientState.Symptoms) > 0 {
		fmt.Fprintf(&b, "Symptoms: %s\n", strings.Join(dctx.PatientState.Symptoms, ", "))
	}
	b.WriteString("\n")

	if len(dctx.RecentTurns) > 0 {
		b.WriteString("## Recent conversation\n")
		for _, t := range dctx.RecentTurns {
			fmt.Fprintf(&b, "Student: %s\nPatient: %s\n", t.Question, t.Response)
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "## Question\n%s\n\n", question)

	b.WriteString(`## Output format
Respond with ONLY a JSON object, no markdown fences:
{
  "text": "what the patient says, in character",
  "emotional_state": "neutral|calm|anxious|distressed|critical",
  "vital_sign_changes": {"heart_rate": 0, "systolic_bp": 0},
  "medical_accuracy": 0.0,
  "educational_value": 0.0,
  "triggered_event_types": []
}
Only include vital_sign_changes if the exchange itself plausibly moves
vitals (e.g. reassurance lowers heart rate slightly). medical_accuracy
and educational_value grade the student's question from 0 to 1.
triggered_event_types may list follow-up events from: lab_result_ready,
medication_effect, patient_deterioration, vital_change, nurse_note.`)

	return b.String()
}

func parsePatientReply(raw string) (*models.PatientReply, error) {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)

	var reply models.PatientReply
	if err := json.Unmarshal([]byte(cleaned), &reply); err != nil {
		return nil, err
	}
	if reply.Text == "" {
		return nil, fmt.Errorf("reply missing text field")
	}
	reply.MedicalAccuracy = clamp01(reply.MedicalAccuracy)
	reply.EducationalValue = clamp01(reply.EducationalValue)
	return &reply, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func extractText(resp *genai.GenerateContentResponse) string {
	var sb strings.Builder
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if text, ok := part.(genai.Text); ok {
				sb.WriteString(string(text))
			}
		}
	}
	return sb.String()
}
