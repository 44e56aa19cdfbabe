package services

import (
	"testing"

	qdrant "github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"supplychain-iq-api/pkg/models"
)

func TestChunkPointPayload(t *testing.T) {
	c := chunk(models.EntitySupplier, 7, "Supplier 7: Acme")
	p := chunkPoint(3, c, []float32{1, 2})

	assert.Equal(t, uint64(3), p.GetId().GetNum())
	assert.Equal(t, []float32{1, 2}, p.GetVectors().GetVector().GetData())
	assert.Equal(t, "Supplier 7: Acme", p.Payload["text"].GetStringValue())
	assert.Equal(t, "supplier", p.Payload["type"].GetStringValue())
	assert.Equal(t, int64(7), p.Payload["id"].GetIntegerValue())
	assert.Equal(t, int64(3), p.Payload["position"].GetIntegerValue())
}

func TestScoredPointsToHitsRestoresInsertionOrderOnTies(t *testing.T) {
	scored := func(position int, score float32) *qdrant.ScoredPoint {
		pt := chunkPoint(position, chunk(models.EntityItem, position+1, "item"), nil)
		return &qdrant.ScoredPoint{Id: pt.Id, Payload: pt.Payload, Score: score}
	}
	// Qdrant が同距離の点を任意の順で返した場合
	hits := scoredPointsToHits([]*qdrant.ScoredPoint{scored(4, 0.5), scored(1, 0.5), scored(2, 0.1)})

	require.Len(t, hits, 3)
	assert.Equal(t, []int{2, 1, 4}, []int{hits[0].Position, hits[1].Position, hits[2].Position})
	assert.Equal(t, 2, hits[1].Chunk.Metadata.ID)
	assert.InDelta(t, 0.1, hits[0].Distance, 1e-6)
}

func TestSearchRequestIsExact(t *testing.T) {
	req := searchRequest("supplychain_chunks_g1", []float32{0.5, 1}, 21)

	assert.Equal(t, "supplychain_chunks_g1", req.GetCollectionName())
	assert.Equal(t, []float32{0.5, 1}, req.GetVector())
	assert.Equal(t, uint64(21), req.GetLimit())
	require.NotNil(t, req.GetParams())
	assert.True(t, req.GetParams().GetExact())
	assert.True(t, req.GetWithPayload().GetEnable())
}

func TestTiesBeyondLimitAreSortedBeforeTrim(t *testing.T) {
	scored := func(position int, score float32) *qdrant.ScoredPoint {
		pt := chunkPoint(position, chunk(models.EntityItem, position+1, "item"), nil)
		return &qdrant.ScoredPoint{Id: pt.Id, Payload: pt.Payload, Score: score}
	}
	// k=2 だが同距離の点が余分に取った範囲に入っている
	points := []*qdrant.ScoredPoint{scored(9, 0.2), scored(7, 0.3), scored(3, 0.3), scored(0, 0.3)}
	hits := trimHits(scoredPointsToHits(points), 2)

	require.Len(t, hits, 2)
	assert.Equal(t, 9, hits[0].Position)
	assert.Equal(t, 0, hits[1].Position)

	assert.Len(t, trimHits(scoredPointsToHits(points), 10), 4)
}

func TestOwnedCollections(t *testing.T) {
	names := []string{"supplychain_chunks_g2_bb", "other", "supplychain_chunks_g1_aa", "supplychain_chunksX_g1", "system_doc_1"}
	assert.Equal(t, []string{"supplychain_chunks_g1_aa", "supplychain_chunks_g2_bb"}, ownedCollections(names, "supplychain_chunks"))
	assert.Empty(t, ownedCollections(nil, "x"))
}
