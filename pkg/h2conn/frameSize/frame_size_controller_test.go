package frameSize

import (
	"errors"
	"testing"
)

import (
	"github.com/stretchr/testify/assert"
)

import (
	"github.com/dubbogo/h2handler/pkg/common"
)

func collect(mfc *H2MaxFrameController, endStream bool, data []byte) ([]common.DataPkg, error) {
	pkgs := make([]common.DataPkg, 0)
	err := mfc.SendGeneralDataFrame(7, endStream, data, func(pkg common.DataPkg) error {
		pkgs = append(pkgs, pkg)
		return nil
	})
	return pkgs, err
}

func TestSendGeneralDataFrameSplits(t *testing.T) {
	mfc := NewH2MaxFrameController()
	assert.Equal(t, uint32(common.DefaultMaxFrameSize), mfc.MaxFrameSize())
	mfc.SetMaxFrameSize(10)

	pkgs, err := collect(mfc, true, make([]byte, 25))
	assert.Nil(t, err)
	assert.Equal(t, 3, len(pkgs))
	assert.Equal(t, 10, len(pkgs[0].Data))
	assert.Equal(t, 10, len(pkgs[1].Data))
	assert.Equal(t, 5, len(pkgs[2].Data))
	assert.False(t, pkgs[0].EndStream)
	assert.False(t, pkgs[1].EndStream)
	assert.True(t, pkgs[2].EndStream)
	for _, p := range pkgs {
		assert.Equal(t, uint32(7), p.StreamID)
	}
}

func TestSendGeneralDataFrameExactMultiple(t *testing.T) {
	mfc := NewH2MaxFrameController()
	mfc.SetMaxFrameSize(10)
	pkgs, err := collect(mfc, false, make([]byte, 20))
	assert.Nil(t, err)
	assert.Equal(t, 2, len(pkgs))
	assert.False(t, pkgs[1].EndStream)
}

func TestSendGeneralDataFrameEmptyKeepsEndStream(t *testing.T) {
	mfc := NewH2MaxFrameController()
	pkgs, err := collect(mfc, true, nil)
	assert.Nil(t, err)
	assert.Equal(t, 1, len(pkgs))
	assert.True(t, pkgs[0].EndStream)
	assert.Equal(t, 0, len(pkgs[0].Data))
}

func TestSendGeneralDataFrameStopsOnError(t *testing.T) {
	mfc := NewH2MaxFrameController()
	mfc.SetMaxFrameSize(10)
	calls := 0
	boom := errors.New("boom")
	err := mfc.SendGeneralDataFrame(1, true, make([]byte, 30), func(pkg common.DataPkg) error {
		calls++
		return boom
	})
	assert.Equal(t, boom, err)
	assert.Equal(t, 1, calls)
}
