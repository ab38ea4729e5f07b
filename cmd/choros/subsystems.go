package main

// Thin core.Subsystem adapters so the node's five co-equal components can be
// registered with core.Registry, which only knows how to start, stop and
// health-check the Subsystem interface, not each component's concrete API.
// Each adapter's Start spawns the goroutine that subscribes it to the
// choreography bus; per the event-choreography rule, these are the ONLY
// places components call into each other, and they do so exclusively by
// publishing and consuming core.AuthenticatedEnvelope, never by holding a
// reference to another component.

import (
	"context"
	"encoding/json"
	"time"

	"github.com/sirupsen/logrus"

	"choros/core"
)

// assemblerGCInterval is how often the assembler's GC sweeps pending
// assemblies for timed-out entries.
const assemblerGCInterval = 5 * time.Second

type routerSubsystem struct {
	router *core.EventRouter
}

func (s *routerSubsystem) Info() core.SubsystemInfo {
	return core.SubsystemInfo{ID: core.SubsystemRouter, Name: "router", Required: true}
}
func (s *routerSubsystem) Start(ctx context.Context) error               { return nil }
func (s *routerSubsystem) Stop(ctx context.Context) error                { return nil }
func (s *routerSubsystem) HealthCheck(ctx context.Context) core.HealthStatus { return core.HealthHealthy }
func (s *routerSubsystem) ReloadConfig(raw []byte) error                 { return nil }

// assemblerSubsystem consumes BlockValidated/MerkleRootComputed/
// StateRootComputed (whichever arrives) and, once the atomic commit
// completes, publishes BlockStored. It also consumes CheckpointFinalized to
// advance its own finalized-height watermark, so the Finality Gadget never
// needs a direct handle on the Assembler.
type assemblerSubsystem struct {
	assembler *core.Assembler
	router    *core.EventRouter
	logger    *logrus.Logger

	sub      *core.Subscription
	gcTicker chan struct{}
}

func (s *assemblerSubsystem) Info() core.SubsystemInfo {
	return core.SubsystemInfo{
		ID:        core.SubsystemStorage,
		Name:      "assembler",
		DependsOn: []core.SubsystemId{core.SubsystemRouter},
		Publishes: []core.PayloadType{core.PayloadBlockStored},
		Subscribes: []core.Topic{core.TopicConsensus, core.TopicTxIndexing,
			core.TopicStateMgmt, core.TopicFinality},
		Required: true,
	}
}

func (s *assemblerSubsystem) Start(ctx context.Context) error {
	s.gcTicker = make(chan struct{})
	go func() {
		ticker := time.NewTicker(assemblerGCInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.gcTicker:
				return
			case <-ticker.C:
				s.assembler.GC()
			}
		}
	}()

	s.sub = s.router.Subscribe(core.Filter{Types: []core.PayloadType{
		core.PayloadBlockValidated,
		core.PayloadMerkleRootComputed,
		core.PayloadStateRootComputed,
		core.PayloadCheckpointFinalized,
	}})
	go s.consumeLoop(ctx)
	return nil
}

func (s *assemblerSubsystem) consumeLoop(ctx context.Context) {
	for {
		env, ok := s.sub.Recv(ctx)
		if !ok {
			return
		}
		s.handle(env)
	}
}

func (s *assemblerSubsystem) handle(env *core.AuthenticatedEnvelope) {
	switch env.PayloadType {
	case core.PayloadBlockValidated:
		var p core.BlockValidatedPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			s.logger.WithError(err).Warn("assembler: malformed BlockValidated payload")
			return
		}
		committed, err := s.assembler.HandleBlockValidated(p.BlockHash, p.Block, p.BlockHeight)
		s.afterHandle(p.BlockHash, committed, err)

	case core.PayloadMerkleRootComputed:
		var p core.MerkleRootComputedPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			s.logger.WithError(err).Warn("assembler: malformed MerkleRootComputed payload")
			return
		}
		committed, err := s.assembler.HandleMerkleRootComputed(p.BlockHash, p.MerkleRoot)
		s.afterHandle(p.BlockHash, committed, err)

	case core.PayloadStateRootComputed:
		var p core.StateRootComputedPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			s.logger.WithError(err).Warn("assembler: malformed StateRootComputed payload")
			return
		}
		committed, err := s.assembler.HandleStateRootComputed(p.BlockHash, p.StateRoot)
		s.afterHandle(p.BlockHash, committed, err)

	case core.PayloadCheckpointFinalized:
		var p core.CheckpointFinalizedPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			s.logger.WithError(err).Warn("assembler: malformed CheckpointFinalized payload")
			return
		}
		block, _, err := s.assembler.ReadBlock(p.Checkpoint.BlockHash)
		if err != nil {
			s.logger.WithError(err).Warn("assembler: finalized checkpoint block not found")
			return
		}
		if err := s.assembler.MarkFinalized(block.Header.Height); err != nil {
			s.logger.WithError(err).Warn("assembler: failed to mark finalized height")
		}
	}
}

// afterHandle publishes BlockStored once tryCommitLocked reports the block
// as newly committed, reading back the stored record for the height and
// attestation proof the Finality Gadget needs.
func (s *assemblerSubsystem) afterHandle(hash core.Hash, committed bool, err error) {
	if err != nil {
		s.logger.WithError(err).Warn("assembler: failed to ingest assembly component")
		return
	}
	if !committed {
		return
	}
	block, _, err := s.assembler.ReadBlock(hash)
	if err != nil {
		s.logger.WithError(err).Warn("assembler: block committed but unreadable")
		return
	}
	payload, err := json.Marshal(core.BlockStoredPayload{
		BlockHash:    hash,
		BlockHeight:  block.Header.Height,
		Attestations: block.Proof,
	})
	if err != nil {
		s.logger.WithError(err).Warn("assembler: failed to encode BlockStored payload")
		return
	}
	if _, err := s.router.PublishNew(core.TopicStorage, core.SubsystemStorage, core.PayloadBlockStored, payload); err != nil {
		s.logger.WithError(err).Warn("assembler: failed to publish BlockStored")
	}
}

func (s *assemblerSubsystem) Stop(ctx context.Context) error {
	if s.gcTicker != nil {
		close(s.gcTicker)
	}
	if s.sub != nil {
		s.sub.Unsubscribe()
	}
	return nil
}

func (s *assemblerSubsystem) HealthCheck(ctx context.Context) core.HealthStatus {
	if s.assembler.PendingCount() > 0 {
		return core.HealthDegraded
	}
	return core.HealthHealthy
}

func (s *assemblerSubsystem) ReloadConfig(raw []byte) error { return nil }

// finalitySubsystem consumes BlockStored, casts a vote per attestation in
// the stored block's proof, and publishes CheckpointJustified,
// CheckpointFinalized and SlashableOffenseDetected as CastVote reports them.
type finalitySubsystem struct {
	gadget *core.FinalityGadget
	router *core.EventRouter
	logger *logrus.Logger

	sub *core.Subscription
}

func (s *finalitySubsystem) Info() core.SubsystemInfo {
	return core.SubsystemInfo{
		ID:        core.SubsystemFinality,
		Name:      "finality",
		DependsOn: []core.SubsystemId{core.SubsystemConsensus, core.SubsystemStorage},
		Publishes: []core.PayloadType{core.PayloadCheckpointJustified, core.PayloadCheckpointFinalized,
			core.PayloadSlashableOffenseDetected},
		Subscribes: []core.Topic{core.TopicStorage},
		Required:   true,
	}
}

func (s *finalitySubsystem) Start(ctx context.Context) error {
	s.sub = s.router.Subscribe(core.Filter{
		Topics: []core.Topic{core.TopicStorage},
		Types:  []core.PayloadType{core.PayloadBlockStored},
	})
	go s.consumeLoop(ctx)
	return nil
}

func (s *finalitySubsystem) consumeLoop(ctx context.Context) {
	for {
		env, ok := s.sub.Recv(ctx)
		if !ok {
			return
		}
		s.handle(env)
	}
}

func (s *finalitySubsystem) handle(env *core.AuthenticatedEnvelope) {
	var p core.BlockStoredPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		s.logger.WithError(err).Warn("finality: malformed BlockStored payload")
		return
	}
	for _, att := range p.Attestations {
		justified, finalized, offense, err := s.gadget.CastVote(att)
		if offense != nil {
			s.publishOffense(*offense)
		}
		if err != nil {
			continue
		}
		if justified {
			if cp, ok := s.gadget.LastJustified(); ok {
				s.publish(core.TopicFinality, core.PayloadCheckpointJustified, core.CheckpointJustifiedPayload{Checkpoint: cp})
			}
		}
		if finalized {
			if cp, ok := s.gadget.LastFinalized(); ok {
				s.publish(core.TopicFinality, core.PayloadCheckpointFinalized, core.CheckpointFinalizedPayload{Checkpoint: cp})
			}
		}
	}
}

func (s *finalitySubsystem) publish(topic core.Topic, pt core.PayloadType, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		s.logger.WithError(err).Warn("finality: failed to encode payload")
		return
	}
	if _, err := s.router.PublishNew(topic, core.SubsystemFinality, pt, raw); err != nil {
		s.logger.WithError(err).Warn("finality: failed to publish event")
	}
}

func (s *finalitySubsystem) publishOffense(offense core.SlashableOffense) {
	s.publish(core.TopicFinality, core.PayloadSlashableOffenseDetected, core.SlashableOffenseDetectedPayload{Offense: offense})
}

func (s *finalitySubsystem) Stop(ctx context.Context) error {
	if s.sub != nil {
		s.sub.Unsubscribe()
	}
	return nil
}
func (s *finalitySubsystem) HealthCheck(ctx context.Context) core.HealthStatus { return core.HealthHealthy }
func (s *finalitySubsystem) ReloadConfig(raw []byte) error                    { return nil }

// consensusSubsystem consumes CandidateBlockSubmitted (the one input this
// core accepts from the excluded networking/gossip layer) and, on
// successful validation, publishes BlockValidated.
type consensusSubsystem struct {
	validator *core.ConsensusValidator
	router    *core.EventRouter
	logger    *logrus.Logger

	sub *core.Subscription
}

func (s *consensusSubsystem) Info() core.SubsystemInfo {
	return core.SubsystemInfo{
		ID:         core.SubsystemConsensus,
		Name:       "consensus",
		DependsOn:  []core.SubsystemId{core.SubsystemRouter},
		Publishes:  []core.PayloadType{core.PayloadBlockValidated},
		Subscribes: []core.Topic{core.TopicConsensus},
		Required:   true,
	}
}

func (s *consensusSubsystem) Start(ctx context.Context) error {
	s.sub = s.router.Subscribe(core.Filter{
		Topics: []core.Topic{core.TopicConsensus},
		Types:  []core.PayloadType{core.PayloadCandidateBlockSubmitted},
	})
	go s.consumeLoop(ctx)
	return nil
}

func (s *consensusSubsystem) consumeLoop(ctx context.Context) {
	for {
		env, ok := s.sub.Recv(ctx)
		if !ok {
			return
		}
		s.handle(env)
	}
}

func (s *consensusSubsystem) handle(env *core.AuthenticatedEnvelope) {
	var p core.CandidateBlockSubmittedPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		s.logger.WithError(err).Warn("consensus: malformed CandidateBlockSubmitted payload")
		return
	}
	if err := s.validator.Validate(p.Block, p.Attestations, p.ValidatorStake, p.TotalStake); err != nil {
		s.logger.WithError(err).Warn("consensus: candidate block rejected")
		return
	}
	hash := p.Block.BlockHash()
	s.validator.RecordAccepted(hash, p.Block.Header.Height)

	payload, err := json.Marshal(core.BlockValidatedPayload{
		BlockHash:   hash,
		Block:       p.Block,
		BlockHeight: p.Block.Header.Height,
	})
	if err != nil {
		s.logger.WithError(err).Warn("consensus: failed to encode BlockValidated payload")
		return
	}
	if _, err := s.router.PublishNew(core.TopicConsensus, core.SubsystemConsensus, core.PayloadBlockValidated, payload); err != nil {
		s.logger.WithError(err).Warn("consensus: failed to publish BlockValidated")
	}
}

func (s *consensusSubsystem) Stop(ctx context.Context) error {
	if s.sub != nil {
		s.sub.Unsubscribe()
	}
	return nil
}
func (s *consensusSubsystem) HealthCheck(ctx context.Context) core.HealthStatus { return core.HealthHealthy }
func (s *consensusSubsystem) ReloadConfig(raw []byte) error                    { return nil }

// schedulerSubsystem consumes OrderTransactionsRequest, replies with
// OrderTransactionsResponse on the request's reply_to topic, and separately
// broadcasts TransactionsOrdered to Smart Contracts on success.
type schedulerSubsystem struct {
	maxBatch int
	router   *core.EventRouter
	logger   *logrus.Logger

	sub *core.Subscription
}

func (s *schedulerSubsystem) Info() core.SubsystemInfo {
	return core.SubsystemInfo{
		ID:         core.SubsystemOrdering,
		Name:       "scheduler",
		DependsOn:  []core.SubsystemId{core.SubsystemRouter},
		Publishes:  []core.PayloadType{core.PayloadOrderTransactionsResponse, core.PayloadTransactionsOrdered},
		Subscribes: []core.Topic{core.TopicOrdering},
		Required:   false,
	}
}

func (s *schedulerSubsystem) Start(ctx context.Context) error {
	s.sub = s.router.Subscribe(core.Filter{
		Topics: []core.Topic{core.TopicOrdering},
		Types:  []core.PayloadType{core.PayloadOrderTransactionsRequest},
	})
	go s.consumeLoop(ctx)
	return nil
}

func (s *schedulerSubsystem) consumeLoop(ctx context.Context) {
	for {
		env, ok := s.sub.Recv(ctx)
		if !ok {
			return
		}
		s.handle(env)
	}
}

func (s *schedulerSubsystem) handle(env *core.AuthenticatedEnvelope) {
	var req core.OrderTransactionsRequest
	if err := json.Unmarshal(env.Payload, &req); err != nil {
		s.logger.WithError(err).Warn("scheduler: malformed OrderTransactionsRequest payload")
		return
	}
	resp, err := core.OrderTransactions(env.SenderID, req, s.maxBatch)
	if err != nil {
		s.logger.WithError(err).Warn("scheduler: ordering request failed")
		return
	}

	if env.ReplyTo != "" {
		respPayload, err := json.Marshal(resp)
		if err != nil {
			s.logger.WithError(err).Warn("scheduler: failed to encode OrderTransactionsResponse")
			return
		}
		if _, err := s.router.Respond(env, core.SubsystemOrdering, core.PayloadOrderTransactionsResponse, respPayload); err != nil {
			s.logger.WithError(err).Warn("scheduler: failed to respond with OrderTransactionsResponse")
		}
	}

	orderedPayload, err := json.Marshal(core.TransactionsOrderedPayload{
		BlockHash:      req.BlockHash,
		BlockHeight:    req.BlockHeight,
		ParallelGroups: resp.ParallelGroups,
		MaxParallelism: resp.MaxParallelism,
	})
	if err != nil {
		s.logger.WithError(err).Warn("scheduler: failed to encode TransactionsOrdered payload")
		return
	}
	if _, err := s.router.PublishNew(core.TopicSmartContracts, core.SubsystemOrdering, core.PayloadTransactionsOrdered, orderedPayload); err != nil {
		s.logger.WithError(err).Warn("scheduler: failed to publish TransactionsOrdered")
	}
}

func (s *schedulerSubsystem) Stop(ctx context.Context) error {
	if s.sub != nil {
		s.sub.Unsubscribe()
	}
	return nil
}
func (s *schedulerSubsystem) HealthCheck(ctx context.Context) core.HealthStatus { return core.HealthHealthy }
func (s *schedulerSubsystem) ReloadConfig(raw []byte) error                    { return nil }
