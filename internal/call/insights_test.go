package call

import "testing"

func TestExtractInsights_SentimentFromAnalysisAliases(t *testing.T) {
	out := ExtractInsights("", map[string]interface{}{
		"user_sentiment":  "Very Positive",
		"patient_reached": true,
	})

	if out.Sentiment != SentimentPositive {
		t.Fatalf("expected positive sentiment, got %q", out.Sentiment)
	}
	if !out.PatientReached {
		t.Fatal("expected patient reached")
	}
	if out.FollowUpNeeded {
		t.Fatalf("expected no follow-up, got reason %q", out.FollowUpReason)
	}
}

func TestExtractInsights_PatientReachedAcceptsStringTrue(t *testing.T) {
	out := ExtractInsights("", map[string]interface{}{
		"patient_reached": "Yes",
	})

	if !out.PatientReached {
		t.Fatal("expected string yes to count as reached")
	}
}

func TestExtractInsights_NotReachedNeedsFollowUp(t *testing.T) {
	out := ExtractInsights("", map[string]interface{}{})

	if !out.FollowUpNeeded {
		t.Fatal("expected follow-up when patient not reached")
	}
	if out.FollowUpReason != "Patient not reached" {
		t.Fatalf("unexpected follow-up reason %q", out.FollowUpReason)
	}
}

func TestExtractInsights_CallbackRequestedWinsOverOtherReasons(t *testing.T) {
	out := ExtractInsights("", map[string]interface{}{
		"callback_requested": true,
		"patient_questions":  true,
	})

	if out.FollowUpReason != "Callback requested" {
		t.Fatalf("expected callback reason, got %q", out.FollowUpReason)
	}
}

func TestExtractInsights_VoicemailAliases(t *testing.T) {
	out := ExtractInsights("", map[string]interface{}{
		"in_voicemail": true,
	})

	if !out.VoicemailLeft {
		t.Fatal("expected voicemail left")
	}
}

func TestExtractInsights_TranscriptCallbackPhrase(t *testing.T) {
	out := ExtractInsights(
		"Agent: hello. Patient: please call me back tomorrow afternoon.",
		map[string]interface{}{"patient_reached": true},
	)

	if !out.FollowUpNeeded {
		t.Fatal("expected follow-up from transcript phrase")
	}
	if out.FollowUpReason != "Callback request detected in transcript" {
		t.Fatalf("unexpected reason %q", out.FollowUpReason)
	}
}

func TestExtractInsights_TranscriptSentimentNeedsPositiveMargin(t *testing.T) {
	// One positive word against one negative word stays neutral.
	out := ExtractInsights("yes but no", map[string]interface{}{"patient_reached": true})
	if out.Sentiment != SentimentNeutral {
		t.Fatalf("expected neutral on a tie, got %q", out.Sentiment)
	}

	out = ExtractInsights("yes great thanks, perfect", map[string]interface{}{"patient_reached": true})
	if out.Sentiment != SentimentPositive {
		t.Fatalf("expected positive with clear margin, got %q", out.Sentiment)
	}
}

func TestExtractInsights_NilAnalysisDoesNotPanic(t *testing.T) {
	out := ExtractInsights("", nil)
	if out.Sentiment != SentimentNeutral {
		t.Fatalf("expected neutral default, got %q", out.Sentiment)
	}
}
