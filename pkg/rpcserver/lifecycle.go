package rpcserver

import (
	"context"

	"tabletdb/pkg/schema"
	"tabletdb/pkg/types"
)

func (s *Server) createTable(ctx context.Context, req schema.TableMeta) (struct{}, error) {
	return struct{}{}, s.mgr.CreateTable(&req)
}

type loadTableReq struct {
	partitionKeyReq
	Meta schema.TableMeta `json:"meta"`
}

func (s *Server) loadTable(ctx context.Context, req loadTableReq) (struct{}, error) {
	meta := req.Meta
	return struct{}{}, s.mgr.LoadTable(req.TID, req.PID, &meta)
}

func (s *Server) dropTable(ctx context.Context, req partitionKeyReq) (struct{}, error) {
	return struct{}{}, s.mgr.DropTable(req.TID, req.PID)
}

type changeRoleReq struct {
	partitionKeyReq
	Role     types.Mode `json:"role"`
	Term     types.Term `json:"term"`
	Replicas []string   `json:"replicas"`
}

func (s *Server) changeRole(ctx context.Context, req changeRoleReq) (struct{}, error) {
	return struct{}{}, s.mgr.ChangeRole(req.TID, req.PID, req.Role, req.Term, req.Replicas)
}

type setModeReq struct {
	partitionKeyReq
	Role types.Mode `json:"role"`
}

func (s *Server) setMode(ctx context.Context, req setModeReq) (struct{}, error) {
	return struct{}{}, s.mgr.SetMode(req.TID, req.PID, req.Role)
}

func (s *Server) getTableStatus(ctx context.Context, req partitionKeyReq) (types.PartitionState, error) {
	return s.mgr.GetTableStatus(req.TID, req.PID)
}

func (s *Server) getTableSchema(ctx context.Context, req partitionKeyReq) (*schema.TableMeta, error) {
	return s.mgr.GetTableSchema(req.TID, req.PID)
}

type termPairResp struct {
	Role types.Mode `json:"role"`
	Term types.Term `json:"term"`
}

func (s *Server) getTermPair(ctx context.Context, req partitionKeyReq) (termPairResp, error) {
	role, term, err := s.mgr.GetTermPair(req.TID, req.PID)
	return termPairResp{Role: role, Term: term}, err
}
