package webhook

import (
	"context"
	"testing"

	"carecall_backend/internal/call"
	"carecall_backend/internal/campaign"
	"carecall_backend/internal/org"
	"carecall_backend/internal/outreach"
	"carecall_backend/internal/patient"
	"carecall_backend/internal/realtime"
	"carecall_backend/internal/retell"
	"carecall_backend/internal/run"
	"carecall_backend/platform/apperr"
	"carecall_backend/platform/logger"

	"github.com/google/uuid"
)

type fakeOrgs struct {
	o *org.Organization
}

func (f *fakeOrgs) GetByID(_ context.Context, id uuid.UUID) (*org.Organization, error) {
	if f.o != nil && f.o.ID == id {
		return f.o, nil
	}
	return nil, nil
}

type fakePatients struct {
	byPhone map[string]*patient.Patient
}

func (f *fakePatients) GetByPhone(_ context.Context, _ uuid.UUID, rawPhone string) (*patient.Patient, error) {
	return f.byPhone[rawPhone], nil
}

func (f *fakePatients) CreatePlaceholder(_ context.Context, orgID uuid.UUID, callerPhone string) (*patient.Patient, error) {
	p := &patient.Patient{
		ID:        uuid.New(),
		OrgID:     orgID,
		FirstName: "Unknown",
		LastName:  "Caller",
		Phone:     callerPhone,
	}
	f.byPhone[callerPhone] = p
	return p, nil
}

type fakeCampaigns struct {
	byID    map[uuid.UUID]*campaign.Campaign
	inbound *campaign.Campaign
}

func (f *fakeCampaigns) GetByID(_ context.Context, id uuid.UUID, _ uuid.UUID) (*campaign.Campaign, error) {
	c, ok := f.byID[id]
	if !ok {
		return nil, apperr.NotFound("campaign not found")
	}
	return c, nil
}

func (f *fakeCampaigns) GetDefaultInbound(_ context.Context, _ uuid.UUID) (*campaign.Campaign, error) {
	return f.inbound, nil
}

type fakeCalls struct {
	calls map[uuid.UUID]*call.Call
}

func (f *fakeCalls) Create(_ context.Context, c *call.Call) error {
	copied := *c
	f.calls[c.ID] = &copied
	return nil
}

func (f *fakeCalls) Update(_ context.Context, c *call.Call) error {
	if _, ok := f.calls[c.ID]; !ok {
		return apperr.NotFound("call not found")
	}
	copied := *c
	f.calls[c.ID] = &copied
	return nil
}

func (f *fakeCalls) GetByID(_ context.Context, id uuid.UUID, _ uuid.UUID) (*call.Call, error) {
	c, ok := f.calls[id]
	if !ok {
		return nil, apperr.NotFound("call not found")
	}
	copied := *c
	return &copied, nil
}

func (f *fakeCalls) GetByProviderCallID(_ context.Context, _ uuid.UUID, providerCallID string) (*call.Call, error) {
	for _, c := range f.calls {
		if c.ProviderCallID == providerCallID {
			copied := *c
			return &copied, nil
		}
	}
	return nil, nil
}

func (f *fakeCalls) GetByMetadataCallID(_ context.Context, _ uuid.UUID, callID string) (*call.Call, error) {
	for _, c := range f.calls {
		if raw, ok := c.Metadata["callId"].(string); ok && raw == callID {
			copied := *c
			return &copied, nil
		}
	}
	return nil, nil
}

func (f *fakeCalls) SetOutreachEffort(_ context.Context, id uuid.UUID, _ uuid.UUID, effortID uuid.UUID) error {
	c, ok := f.calls[id]
	if !ok {
		return apperr.NotFound("call not found")
	}
	c.OutreachEffortID = &effortID
	return nil
}

type fakeEfforts struct {
	efforts          map[uuid.UUID]*outreach.Effort
	callbackResolves int
	resolutionSets   int
}

func (f *fakeEfforts) Create(_ context.Context, e *outreach.Effort) error {
	if e.ResolutionStatus == "" {
		e.ResolutionStatus = outreach.ResolutionOpen
	}
	copied := *e
	f.efforts[e.ID] = &copied
	return nil
}

func (f *fakeEfforts) GetOpenByPatient(_ context.Context, _ uuid.UUID, patientID uuid.UUID) (*outreach.Effort, error) {
	for _, e := range f.efforts {
		if e.PatientID == patientID && e.ResolutionStatus.IsOpenFamily() {
			copied := *e
			return &copied, nil
		}
	}
	return nil, nil
}

func (f *fakeEfforts) LinkCall(_ context.Context, id uuid.UUID, _ uuid.UUID, callID uuid.UUID) error {
	e, ok := f.efforts[id]
	if !ok {
		return apperr.NotFound("outreach effort not found")
	}
	if e.OriginalCallID == nil {
		e.OriginalCallID = &callID
	}
	e.LastCallID = &callID
	return nil
}

func (f *fakeEfforts) UpdateResolution(_ context.Context, id uuid.UUID, _ uuid.UUID, status outreach.ResolutionStatus, lastCallID *uuid.UUID) error {
	e, ok := f.efforts[id]
	if !ok {
		return apperr.NotFound("outreach effort not found")
	}
	f.resolutionSets++
	e.ResolutionStatus = status
	if lastCallID != nil {
		e.LastCallID = lastCallID
	}
	return nil
}

func (f *fakeEfforts) ResolveForCallback(_ context.Context, id uuid.UUID, _ uuid.UUID, lastCallID *uuid.UUID) error {
	e, ok := f.efforts[id]
	if !ok {
		return apperr.NotFound("outreach effort not found")
	}
	f.callbackResolves++
	e.ResolutionStatus = outreach.ResolutionResolved
	e.CallbackCount++
	if lastCallID != nil {
		e.LastCallID = lastCallID
	}
	return nil
}

type fakeRuns struct {
	rows           map[uuid.UUID]*run.Row
	outcomes       []run.TerminalOutcome
	callbacks      int
	inboundReturns int
}

func (f *fakeRuns) GetRow(_ context.Context, _ uuid.UUID, rowID uuid.UUID) (*run.Row, error) {
	row, ok := f.rows[rowID]
	if !ok {
		return nil, apperr.NotFound("row not found")
	}
	copied := *row
	return &copied, nil
}

func (f *fakeRuns) SaveRowOutcome(_ context.Context, row *run.Row) error {
	if _, ok := f.rows[row.ID]; !ok {
		return apperr.NotFound("row not found")
	}
	copied := *row
	f.rows[row.ID] = &copied
	return nil
}

func (f *fakeRuns) RecordCallback(_ context.Context, _ uuid.UUID, row *run.Row, _ uuid.UUID) error {
	f.callbacks++
	row.Status = run.RowStatusCallback
	copied := *row
	f.rows[row.ID] = &copied
	return nil
}

func (f *fakeRuns) RecordInboundReturn(_ context.Context, _ uuid.UUID, _ uuid.UUID) error {
	f.inboundReturns++
	return nil
}

func (f *fakeRuns) ApplyOutboundTerminal(_ context.Context, _ uuid.UUID, _ uuid.UUID, outcome run.TerminalOutcome) error {
	f.outcomes = append(f.outcomes, outcome)
	return nil
}

type webhookFixture struct {
	svc       *Service
	orgID     uuid.UUID
	patients  *fakePatients
	campaigns *fakeCampaigns
	calls     *fakeCalls
	efforts   *fakeEfforts
	runs      *fakeRuns
}

func newWebhookFixture() *webhookFixture {
	orgID := uuid.New()
	patients := &fakePatients{byPhone: map[string]*patient.Patient{}}
	campaigns := &fakeCampaigns{byID: map[uuid.UUID]*campaign.Campaign{}}
	calls := &fakeCalls{calls: map[uuid.UUID]*call.Call{}}
	efforts := &fakeEfforts{efforts: map[uuid.UUID]*outreach.Effort{}}
	runs := &fakeRuns{rows: map[uuid.UUID]*run.Row{}}

	svc := NewService(
		&fakeOrgs{o: &org.Organization{ID: orgID, Name: "Praktijk Zuid"}},
		patients, campaigns, calls, efforts, runs,
		realtime.Noop{},
		logger.New("development"),
	)

	return &webhookFixture{
		svc:       svc,
		orgID:     orgID,
		patients:  patients,
		campaigns: campaigns,
		calls:     calls,
		efforts:   efforts,
		runs:      runs,
	}
}

// seedOutboundContext wires a patient with an open effort behind a
// dispatched row, the shape the dispatcher leaves behind mid-call.
func (fx *webhookFixture) seedOutboundContext(phone string, rowStatus run.RowStatus) (*patient.Patient, *campaign.Campaign, *outreach.Effort, *run.Row) {
	pat := &patient.Patient{ID: uuid.New(), OrgID: fx.orgID, FirstName: "Anna", LastName: "de Vries", Phone: phone}
	fx.patients.byPhone[phone] = pat

	camp := &campaign.Campaign{ID: uuid.New(), OrgID: fx.orgID, Name: "flu shots", AgentID: "agent-flu-campaign", Direction: campaign.DirectionOutbound}
	fx.campaigns.byID[camp.ID] = camp

	runID := uuid.New()
	row := &run.Row{ID: uuid.New(), RunID: runID, OrgID: fx.orgID, PatientID: &pat.ID, Status: rowStatus}
	fx.runs.rows[row.ID] = row

	effort := &outreach.Effort{
		ID:               uuid.New(),
		OrgID:            fx.orgID,
		PatientID:        pat.ID,
		CampaignID:       camp.ID,
		RunID:            &runID,
		RowID:            &row.ID,
		ResolutionStatus: outreach.ResolutionOpen,
		Variables:        map[string]interface{}{"appointment_date": "2026-09-15"},
	}
	fx.efforts.efforts[effort.ID] = effort

	return pat, camp, effort, row
}

func TestHandleInbound_HotSwapToOpenEffortCampaign(t *testing.T) {
	fx := newWebhookFixture()
	pat, camp, effort, row := fx.seedOutboundContext("+31612345678", run.RowStatusCompleted)

	resp := fx.svc.HandleInbound(context.Background(), fx.orgID, retell.InboundWebhookPayload{
		AgentID:    "agent-number-default",
		FromNumber: pat.Phone,
		ToNumber:   "+31208001234",
	})

	if resp.Status != "success" {
		t.Fatalf("expected success, got %q (%s)", resp.Status, resp.Error)
	}
	if resp.CallInbound.OverrideAgentID == nil || *resp.CallInbound.OverrideAgentID != camp.AgentID {
		t.Fatalf("expected hot-swap to campaign agent %q, got %v", camp.AgentID, resp.CallInbound.OverrideAgentID)
	}
	if resp.CallInbound.DynamicVariables["is_return_call"] != "TRUE" {
		t.Fatalf("expected is_return_call TRUE, got %q", resp.CallInbound.DynamicVariables["is_return_call"])
	}
	if resp.CallInbound.DynamicVariables["appointment_date"] != "2026-09-15" {
		t.Fatal("expected effort variables carried into the live call")
	}
	if resp.CallInbound.Metadata["callId"] == "" {
		t.Fatal("expected internal call id stamped into provider metadata")
	}
	if resp.CallInbound.Metadata["hotSwapPerformed"] != "TRUE" {
		t.Fatal("expected hot-swap marker in metadata")
	}

	if fx.runs.callbacks != 1 {
		t.Fatalf("expected 1 row callback recorded, got %d", fx.runs.callbacks)
	}
	if got := fx.runs.rows[row.ID].Status; got != run.RowStatusCallback {
		t.Fatalf("expected row moved to callback, got %q", got)
	}
	if fx.runs.inboundReturns != 1 {
		t.Fatalf("expected 1 inbound return, got %d", fx.runs.inboundReturns)
	}
	if fx.efforts.efforts[effort.ID].LastCallID == nil {
		t.Fatal("expected inbound call linked to the effort")
	}
}

func TestHandleInbound_NoOpenEffortUsesDefaultInboundCampaign(t *testing.T) {
	fx := newWebhookFixture()
	fx.campaigns.inbound = &campaign.Campaign{ID: uuid.New(), OrgID: fx.orgID, AgentID: "agent-front-desk", Direction: campaign.DirectionInbound}

	resp := fx.svc.HandleInbound(context.Background(), fx.orgID, retell.InboundWebhookPayload{
		FromNumber: "+31699999999",
		ToNumber:   "+31208001234",
	})

	if resp.CallInbound.OverrideAgentID == nil || *resp.CallInbound.OverrideAgentID != "agent-front-desk" {
		t.Fatalf("expected default inbound agent, got %v", resp.CallInbound.OverrideAgentID)
	}
	if resp.CallInbound.DynamicVariables["is_return_call"] != "FALSE" {
		t.Fatal("expected is_return_call FALSE without an open effort")
	}
}

func TestHandleInbound_NoInboundCampaignLeavesProviderAgent(t *testing.T) {
	fx := newWebhookFixture()

	resp := fx.svc.HandleInbound(context.Background(), fx.orgID, retell.InboundWebhookPayload{
		FromNumber: "+31699999999",
	})

	if resp.Status != "success" {
		t.Fatalf("expected success even without routing config, got %q", resp.Status)
	}
	if resp.CallInbound.OverrideAgentID != nil {
		t.Fatal("expected nil override agent so the provider default answers")
	}
}

// The provider call id of an inbound call is unknown until the post-call
// webhook: resolution has to go through the internal id stamped into the
// provider metadata at inbound time.
func TestHandlePostCall_InboundMatchedByInternalCallID(t *testing.T) {
	fx := newWebhookFixture()
	pat, _, effort, row := fx.seedOutboundContext("+31612345678", run.RowStatusCallback)

	runID := *effort.RunID
	inbound := &call.Call{
		ID:               uuid.New(),
		OrgID:            fx.orgID,
		ProviderCallID:   "inbound-placeholder",
		Direction:        call.DirectionInbound,
		Status:           call.StatusInProgress,
		PatientID:        &pat.ID,
		RowID:            &row.ID,
		RunID:            &runID,
		OutreachEffortID: &effort.ID,
	}
	inbound.Metadata = map[string]interface{}{"callId": inbound.ID.String()}
	fx.calls.calls[inbound.ID] = inbound

	resp := fx.svc.HandlePostCall(context.Background(), fx.orgID, retell.PostCallObject{
		CallID:     "retell-real-4711",
		Direction:  "inbound",
		CallStatus: "ended",
		Metadata:   map[string]interface{}{"callId": inbound.ID.String()},
	})

	if resp.Status != "success" {
		t.Fatalf("expected success, got %q (%s)", resp.Status, resp.Message)
	}
	if len(fx.calls.calls) != 1 {
		t.Fatalf("expected the existing record matched, got %d records", len(fx.calls.calls))
	}
	if got := fx.calls.calls[inbound.ID].ProviderCallID; got != "retell-real-4711" {
		t.Fatalf("expected provider call id backfilled, got %q", got)
	}
	if fx.efforts.callbackResolves != 1 {
		t.Fatalf("expected effort resolved for callback once, got %d", fx.efforts.callbackResolves)
	}
	if got := fx.runs.rows[row.ID].Status; got != run.RowStatusCallback {
		t.Fatalf("expected row kept in callback, got %q", got)
	}
	if len(fx.runs.outcomes) != 0 {
		t.Fatalf("expected no outbound run counters from an inbound call, got %d", len(fx.runs.outcomes))
	}
}

// Inbound-before-outbound ordering: when the patient called back before
// the outbound call's own webhook arrived, the outbound outcome still
// counts against the run but must not demote the row out of callback.
func TestHandlePostCall_OutboundAfterCallbackKeepsRowStatus(t *testing.T) {
	fx := newWebhookFixture()
	pat, camp, effort, row := fx.seedOutboundContext("+31612345678", run.RowStatusCallback)

	runID := *effort.RunID
	outbound := &call.Call{
		ID:               uuid.New(),
		OrgID:            fx.orgID,
		ProviderCallID:   "retell-out-1",
		Direction:        call.DirectionOutbound,
		Status:           call.StatusInProgress,
		PatientID:        &pat.ID,
		CampaignID:       &camp.ID,
		RowID:            &row.ID,
		RunID:            &runID,
		OutreachEffortID: &effort.ID,
	}
	fx.calls.calls[outbound.ID] = outbound

	resp := fx.svc.HandlePostCall(context.Background(), fx.orgID, retell.PostCallObject{
		CallID:     "retell-out-1",
		Direction:  "outbound",
		CallStatus: "ended",
		CallAnalysis: &retell.CallAnalysis{
			CustomAnalysisData: map[string]interface{}{"patient_reached": true},
		},
	})

	if resp.Status != "success" {
		t.Fatalf("expected success, got %q", resp.Status)
	}
	updated := fx.runs.rows[row.ID]
	if updated.Status != run.RowStatusCallback {
		t.Fatalf("expected callback status preserved, got %q", updated.Status)
	}
	if updated.Analysis["patient_reached"] != true {
		t.Fatal("expected analysis applied to the callback row")
	}
	if len(fx.runs.outcomes) != 1 || fx.runs.outcomes[0].AlreadyTerminal {
		t.Fatalf("expected one counted outbound outcome, got %+v", fx.runs.outcomes)
	}
}

func TestHandlePostCall_DuplicateOutboundDeliveryIsIdempotent(t *testing.T) {
	fx := newWebhookFixture()
	pat, camp, effort, row := fx.seedOutboundContext("+31612345678", run.RowStatusCalling)

	runID := *effort.RunID
	outbound := &call.Call{
		ID:               uuid.New(),
		OrgID:            fx.orgID,
		ProviderCallID:   "retell-out-2",
		Direction:        call.DirectionOutbound,
		Status:           call.StatusInProgress,
		PatientID:        &pat.ID,
		CampaignID:       &camp.ID,
		RowID:            &row.ID,
		RunID:            &runID,
		OutreachEffortID: &effort.ID,
	}
	fx.calls.calls[outbound.ID] = outbound

	payload := retell.PostCallObject{
		CallID:     "retell-out-2",
		Direction:  "outbound",
		CallStatus: "ended",
	}
	fx.svc.HandlePostCall(context.Background(), fx.orgID, payload)
	fx.svc.HandlePostCall(context.Background(), fx.orgID, payload)

	if len(fx.runs.outcomes) != 2 {
		t.Fatalf("expected both deliveries forwarded, got %d", len(fx.runs.outcomes))
	}
	if fx.runs.outcomes[0].AlreadyTerminal {
		t.Fatal("expected the first delivery to count")
	}
	if !fx.runs.outcomes[1].AlreadyTerminal {
		t.Fatal("expected the redelivery flagged as already terminal")
	}
	if fx.efforts.resolutionSets != 1 {
		t.Fatalf("expected effort resolution applied once, got %d", fx.efforts.resolutionSets)
	}
}

// Redelivered inbound post-call webhooks must not count the callback
// again on the effort.
func TestHandlePostCall_DuplicateInboundDeliveryCountsCallbackOnce(t *testing.T) {
	fx := newWebhookFixture()
	pat, _, effort, row := fx.seedOutboundContext("+31612345678", run.RowStatusCallback)

	runID := *effort.RunID
	inbound := &call.Call{
		ID:               uuid.New(),
		OrgID:            fx.orgID,
		ProviderCallID:   "inbound-placeholder",
		Direction:        call.DirectionInbound,
		Status:           call.StatusInProgress,
		PatientID:        &pat.ID,
		RowID:            &row.ID,
		RunID:            &runID,
		OutreachEffortID: &effort.ID,
	}
	inbound.Metadata = map[string]interface{}{"callId": inbound.ID.String()}
	fx.calls.calls[inbound.ID] = inbound

	payload := retell.PostCallObject{
		CallID:     "retell-in-9",
		Direction:  "inbound",
		CallStatus: "ended",
		Metadata:   map[string]interface{}{"callId": inbound.ID.String()},
	}
	fx.svc.HandlePostCall(context.Background(), fx.orgID, payload)
	fx.svc.HandlePostCall(context.Background(), fx.orgID, payload)

	if fx.efforts.callbackResolves != 1 {
		t.Fatalf("expected callback counted once across redeliveries, got %d", fx.efforts.callbackResolves)
	}
	if got := fx.efforts.efforts[effort.ID].CallbackCount; got != 1 {
		t.Fatalf("expected callback_count 1, got %d", got)
	}
	if got := fx.runs.rows[row.ID].Status; got != run.RowStatusCallback {
		t.Fatalf("expected row kept in callback, got %q", got)
	}
}
