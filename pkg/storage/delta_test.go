package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStampAsTxnAndIsTxnStamp(t *testing.T) {
	txnID := stampAsTxn(7)
	assert.True(t, isTxnStamp(txnID))
	assert.Equal(t, uint64(7), txnCounterOf(txnID))

	commitTS := uint64(12345)
	assert.False(t, isTxnStamp(commitTS))
}

func TestDeltaInstallOnVertexBuildsChain(t *testing.T) {
	v := newVertex(GID(1))
	d1 := newDelta(DeltaDeleteObject, stampAsTxn(1))
	d1.installOnVertex(v)
	assert.Equal(t, d1, v.deltaHead.Load())
	assert.Nil(t, d1.Next)

	d2 := newDelta(DeltaSetProperty, stampAsTxn(1))
	d2.installOnVertex(v)
	assert.Equal(t, d2, v.deltaHead.Load())
	assert.Equal(t, d1, d2.Next)
	assert.Equal(t, d2, d1.Prev.delta)
}

func TestDeltaUnlinkHead(t *testing.T) {
	v := newVertex(GID(1))
	d1 := newDelta(DeltaDeleteObject, stampAsTxn(1))
	d1.installOnVertex(v)
	d2 := newDelta(DeltaSetProperty, stampAsTxn(1))
	d2.installOnVertex(v)

	d2.unlink()
	assert.Equal(t, d1, v.deltaHead.Load())
}

func TestDeltaUnlinkMiddle(t *testing.T) {
	v := newVertex(GID(1))
	d1 := newDelta(DeltaDeleteObject, stampAsTxn(1))
	d1.installOnVertex(v)
	d2 := newDelta(DeltaSetProperty, stampAsTxn(1))
	d2.installOnVertex(v)
	d3 := newDelta(DeltaAddLabel, stampAsTxn(1))
	d3.installOnVertex(v)

	d2.unlink()
	assert.Equal(t, d3, v.deltaHead.Load())
	assert.Equal(t, d1, d3.Next)
}

func TestDeltaKindString(t *testing.T) {
	assert.Equal(t, "SetProperty", DeltaSetProperty.String())
	assert.Equal(t, "AddLabel", DeltaAddLabel.String())
}
