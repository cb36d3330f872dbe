package call

import "strings"

// Insights are the signals derived from a finished call's transcript and
// analysis payload. They feed run metrics (connected/voicemail counters)
// and the outreach resolution decision.
type Insights struct {
	Sentiment      string `json:"sentiment"`
	FollowUpNeeded bool   `json:"followUpNeeded"`
	FollowUpReason string `json:"followUpReason,omitempty"`
	PatientReached bool   `json:"patientReached"`
	VoicemailLeft  bool   `json:"voicemailLeft"`
}

const (
	SentimentPositive = "positive"
	SentimentNegative = "negative"
	SentimentNeutral  = "neutral"
)

// Analysis field aliases. Different agent configurations name the same
// signal differently, so each lookup scans a fixed ordered list.
var (
	sentimentAliases = []string{"sentiment", "user_sentiment", "patient_sentiment", "call_sentiment"}
	reachedAliases   = []string{"patient_reached", "patientReached"}
	voicemailAliases = []string{"voicemail_left", "voicemailLeft", "left_voicemail", "leftVoicemail", "voicemail", "in_voicemail", "voicemail_detected"}
	callbackAliases  = []string{"callback_requested", "callbackRequested"}
	questionsAliases = []string{"patient_questions", "patientQuestions"}

	transcriptCallbackPhrases = []string{"call me back", "callback", "call me tomorrow"}

	positiveWords = []string{"yes", "great", "good", "sure", "thanks", "thank", "perfect", "wonderful", "happy", "definitely", "absolutely"}
	negativeWords = []string{"no", "not", "bad", "angry", "upset", "frustrated", "annoyed", "unhappy", "problem", "wrong"}
)

// ExtractInsights derives sentiment, follow-up, voicemail and
// patient-reached signals from a transcript and analysis map. It never
// panics; any internal failure yields the neutral all-false default.
func ExtractInsights(transcript string, analysis map[string]interface{}) (out Insights) {
	out = Insights{Sentiment: SentimentNeutral}
	defer func() {
		if r := recover(); r != nil {
			out = Insights{Sentiment: SentimentNeutral}
		}
	}()

	for _, alias := range sentimentAliases {
		raw, ok := analysis[alias]
		if !ok {
			continue
		}
		s, ok := raw.(string)
		if !ok {
			continue
		}
		lowered := strings.ToLower(s)
		if strings.Contains(lowered, "positive") {
			out.Sentiment = SentimentPositive
			break
		}
		if strings.Contains(lowered, "negative") {
			out.Sentiment = SentimentNegative
			break
		}
	}

	out.PatientReached = truthyField(analysis, reachedAliases)

	for _, alias := range voicemailAliases {
		if b, ok := analysis[alias].(bool); ok && b {
			out.VoicemailLeft = true
			break
		}
	}

	switch {
	case truthyField(analysis, callbackAliases):
		out.FollowUpNeeded = true
		out.FollowUpReason = "Callback requested"
	case truthyField(analysis, questionsAliases):
		out.FollowUpNeeded = true
		out.FollowUpReason = "Patient has questions"
	case !out.PatientReached:
		out.FollowUpNeeded = true
		out.FollowUpReason = "Patient not reached"
	case out.Sentiment == SentimentNegative:
		out.FollowUpNeeded = true
		out.FollowUpReason = "Negative sentiment detected"
	}

	if transcript != "" && out.FollowUpReason == "" {
		lowered := strings.ToLower(transcript)
		for _, phrase := range transcriptCallbackPhrases {
			if strings.Contains(lowered, phrase) {
				out.FollowUpNeeded = true
				out.FollowUpReason = "Callback request detected in transcript"
				break
			}
		}
	}

	if out.Sentiment == SentimentNeutral && transcript != "" {
		out.Sentiment = scoreTranscriptSentiment(transcript)
	}

	return out
}

// truthyField reports whether any alias holds boolean true or the strings
// "true"/"yes" (case-insensitive).
func truthyField(analysis map[string]interface{}, aliases []string) bool {
	for _, alias := range aliases {
		raw, ok := analysis[alias]
		if !ok {
			continue
		}
		switch v := raw.(type) {
		case bool:
			if v {
				return true
			}
		case string:
			lowered := strings.ToLower(strings.TrimSpace(v))
			if lowered == "true" || lowered == "yes" {
				return true
			}
		}
	}
	return false
}

// scoreTranscriptSentiment is a word-count heuristic over fixed word
// lists. Positive needs a clear margin; ties stay neutral.
func scoreTranscriptSentiment(transcript string) string {
	words := strings.Fields(strings.ToLower(transcript))
	var positive, negative int
	for _, word := range words {
		word = strings.Trim(word, ".,!?\"'")
		for _, p := range positiveWords {
			if word == p {
				positive++
				break
			}
		}
		for _, n := range negativeWords {
			if word == n {
				negative++
				break
			}
		}
	}

	if positive > negative+1 {
		return SentimentPositive
	}
	if negative > positive {
		return SentimentNegative
	}
	return SentimentNeutral
}
