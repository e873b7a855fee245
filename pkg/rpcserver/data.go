package rpcserver

import (
	"context"

	"tabletdb/pkg/binlog"
	"tabletdb/pkg/partition"
	"tabletdb/pkg/table"
	"tabletdb/pkg/types"
)

type partitionKeyReq struct {
	TID types.TID `json:"tid"`
	PID types.PID `json:"pid"`
}

type putReq struct {
	partitionKeyReq
	Dimensions   []binlog.Dimension   `json:"dimensions"`
	TsDimensions []binlog.TsDimension `json:"ts_dimensions"`
	Value        []byte               `json:"value"`
}

func (s *Server) put(ctx context.Context, req putReq) (struct{}, error) {
	return struct{}{}, s.mgr.Put(req.TID, req.PID, req.Dimensions, req.TsDimensions, req.Value)
}

type keyLookupReq struct {
	partitionKeyReq
	IndexName string            `json:"index_name"`
	Key       []byte            `json:"key"`
	TsCol     string            `json:"ts_col"`
	Mode      types.CompareMode `json:"compare_mode"`
	Ts        uint64            `json:"ts"`
	Et        uint64            `json:"et"`
	EtType    types.CompareMode `json:"et_type"`
}

func (s *Server) get(ctx context.Context, req keyLookupReq) (table.Entry, error) {
	return s.mgr.Get(req.TID, req.PID, req.IndexName, req.Key, req.TsCol, req.Mode, req.Ts, req.Et, req.EtType)
}

type scanReq struct {
	keyLookupReq
	Limit int `json:"limit"`
}

func (s *Server) scan(ctx context.Context, req scanReq) ([]table.Entry, error) {
	return s.mgr.Scan(req.TID, req.PID, req.IndexName, req.Key, req.TsCol, req.Mode, req.Ts, req.Et, req.EtType, req.Limit)
}

type deleteReq struct {
	partitionKeyReq
	IndexName string `json:"index_name"`
	Key       []byte `json:"key"`
}

func (s *Server) delete(ctx context.Context, req deleteReq) (struct{}, error) {
	return struct{}{}, s.mgr.Delete(req.TID, req.PID, req.IndexName, req.Key)
}

type updateReq struct {
	partitionKeyReq
	IndexName string `json:"index_name"`
	Key       []byte `json:"key"`
	Value     []byte `json:"value"`
}

func (s *Server) update(ctx context.Context, req updateReq) (struct{}, error) {
	return struct{}{}, s.mgr.Update(req.TID, req.PID, req.IndexName, req.Key, req.Value)
}

type batchQueryReq struct {
	partitionKeyReq
	IndexName string   `json:"index_name"`
	Keys      [][]byte `json:"keys"`
}

func (s *Server) batchQuery(ctx context.Context, req batchQueryReq) ([]table.Entry, error) {
	return s.mgr.BatchQuery(req.TID, req.PID, req.IndexName, req.Keys)
}

type traverseReq struct {
	partitionKeyReq
	IndexName string `json:"index_name"`
	Limit     int    `json:"limit"`
}

func (s *Server) traverse(ctx context.Context, req traverseReq) ([]partition.TraverseRow, error) {
	return s.mgr.Traverse(req.TID, req.PID, req.IndexName, req.Limit)
}

func (s *Server) count(ctx context.Context, req partitionKeyReq) (int64, error) {
	return s.mgr.Count(req.TID, req.PID)
}
