// Package api routes decoded protocol requests to the match manager. The
// HTTP and WebSocket transports share it so both speak the same messages.
package api

import (
	"context"
	"encoding/json"
	"errors"

	"dryas.ai/internal/match"
	"dryas.ai/internal/protocol"
)

type Dispatcher struct {
	matches   *match.Manager
	validator *protocol.RequestValidator
}

// NewDispatcher builds a dispatcher. A nil validator skips schema checks.
func NewDispatcher(m *match.Manager, v *protocol.RequestValidator) *Dispatcher {
	return &Dispatcher{matches: m, validator: v}
}

// Result is a response message plus the match it concerns, if any.
type Result struct {
	Msg     any
	MatchID string
}

// Handle decodes one request message and runs it. Errors are
// *protocol.Error values or context errors.
func (d *Dispatcher) Handle(ctx context.Context, raw []byte) (Result, error) {
	base, err := protocol.DecodeBase(raw)
	if err != nil {
		return Result{}, protocol.NewError(protocol.ErrProtoBadRequest, "bad json: "+err.Error())
	}
	if base.ProtocolVersion != protocol.Version {
		return Result{}, protocol.NewError(protocol.ErrProtoBadRequest, "unsupported protocol_version "+base.ProtocolVersion)
	}
	if d.validator != nil {
		if err := d.validator.Validate(base.Type, raw); err != nil {
			return Result{}, err
		}
	}
	switch base.Type {
	case protocol.TypeCreateMatch:
		var req protocol.CreateMatchReq
		if err := decode(raw, &req); err != nil {
			return Result{}, err
		}
		c, err := d.matches.CreateMatch(ctx, req.MatchID, req.Seed, req.Players)
		if err != nil {
			return Result{}, err
		}
		return Result{MatchID: c.MatchID, Msg: protocol.MatchCreatedMsg{
			Type:            protocol.TypeMatchCreated,
			ProtocolVersion: protocol.Version,
			ReqID:           req.ReqID,
			MatchID:         c.MatchID,
			Turn:            c.Turn,
			StateHash:       c.StateHash.String(),
			RulesVersion:    c.RulesVersion,
			RulesDigest:     c.RulesDigest,
			HashFormat:      c.HashFormat,
		}}, nil

	case protocol.TypeGetObservation:
		var req protocol.GetObservationReq
		if err := decode(raw, &req); err != nil {
			return Result{}, err
		}
		obs, err := d.matches.GetObservation(ctx, req.MatchID, req.PlayerID)
		if err != nil {
			return Result{}, err
		}
		return Result{MatchID: req.MatchID, Msg: protocol.ObservationMsg{
			Type:            protocol.TypeObservation,
			ProtocolVersion: protocol.Version,
			ReqID:           req.ReqID,
			Observation:     obs,
		}}, nil

	case protocol.TypeSubmitAction:
		var req protocol.SubmitActionReq
		if err := decode(raw, &req); err != nil {
			return Result{}, err
		}
		ack, err := d.matches.SubmitAction(ctx, match.Submission{
			MatchID:             req.MatchID,
			Turn:                req.Turn,
			PlayerID:            req.PlayerID,
			ActionID:            req.ActionID,
			ActionBytes:         req.ActionBytes,
			PrevStateHashPrefix: req.PrevStateHashPrefix,
		})
		if err != nil {
			return Result{}, err
		}
		return Result{MatchID: req.MatchID, Msg: protocol.AckMsg{
			Type:            protocol.TypeAck,
			ProtocolVersion: protocol.Version,
			ReqID:           req.ReqID,
			Ack:             ack,
		}}, nil

	case protocol.TypeAdvance:
		var req protocol.AdvanceReq
		if err := decode(raw, &req); err != nil {
			return Result{}, err
		}
		batch, err := d.matches.Advance(ctx, req.MatchID)
		if err != nil {
			return Result{}, err
		}
		return Result{MatchID: req.MatchID, Msg: protocol.EventBatchMsg{
			Type:            protocol.TypeEventBatch,
			ProtocolVersion: protocol.Version,
			ReqID:           req.ReqID,
			EventBatch:      batch,
		}}, nil

	case protocol.TypeNegotiate:
		var req protocol.NegotiateReq
		if err := decode(raw, &req); err != nil {
			return Result{}, err
		}
		resp, err := d.matches.Negotiate(ctx, req.MatchID, req.From, req.To, []byte(req.DealJSON))
		if err != nil {
			return Result{}, err
		}
		return Result{MatchID: req.MatchID, Msg: protocol.DealResponseMsg{
			Type:            protocol.TypeDealResponse,
			ProtocolVersion: protocol.Version,
			ReqID:           req.ReqID,
			DealResponse:    resp,
		}}, nil
	}
	return Result{}, protocol.NewError(protocol.ErrProtoBadRequest, "unknown message type "+base.Type)
}

func decode(raw []byte, v any) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return protocol.NewError(protocol.ErrProtoBadRequest, err.Error())
	}
	return nil
}

// ErrorMsg renders err as an ERROR message.
func ErrorMsg(reqID string, err error) protocol.ErrorMsg {
	return protocol.ErrorMsg{
		Type:            protocol.TypeError,
		ProtocolVersion: protocol.Version,
		ReqID:           reqID,
		Code:            Code(err),
		Message:         message(err),
	}
}

func message(err error) string {
	var pe *protocol.Error
	if errors.As(err, &pe) {
		return pe.Message
	}
	return err.Error()
}

// Code is the wire code of err; unknown errors are E_INTERNAL.
func Code(err error) string {
	var pe *protocol.Error
	if errors.As(err, &pe) && protocol.IsKnownCode(pe.Code) {
		return pe.Code
	}
	return protocol.ErrInternal
}
