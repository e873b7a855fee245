package rpcserver

import (
	"context"

	"tabletdb/pkg/replication"
	"tabletdb/pkg/types"
)

type addReplicaReq struct {
	partitionKeyReq
	Endpoint   types.NodeID `json:"endpoint"`
	FromOffset types.Offset `json:"from_offset"`
}

func (s *Server) addReplica(ctx context.Context, req addReplicaReq) (struct{}, error) {
	return struct{}{}, s.mgr.AddReplica(req.TID, req.PID, req.Endpoint, req.FromOffset)
}

type delReplicaReq struct {
	partitionKeyReq
	Endpoint types.NodeID `json:"endpoint"`
}

func (s *Server) delReplica(ctx context.Context, req delReplicaReq) (struct{}, error) {
	return struct{}{}, s.mgr.DelReplica(req.TID, req.PID, req.Endpoint)
}

type appendEntriesReq struct {
	partitionKeyReq
	Request replication.AppendEntriesRequest `json:"request"`
}

func (s *Server) appendEntries(ctx context.Context, req appendEntriesReq) (replication.AppendEntriesResponse, error) {
	return s.mgr.AppendEntries(req.TID, req.PID, req.Request)
}

func (s *Server) getTableFollower(ctx context.Context, req partitionKeyReq) (map[types.NodeID]types.Offset, error) {
	return s.mgr.GetTableFollower(req.TID, req.PID)
}
