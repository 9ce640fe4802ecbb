//go:build !linux

package buffer

import (
	"fmt"

	"github.com/opd-ai/hwcodec/status"
)

var errNoDMA = fmt.Errorf("%w: dma buffers require linux", status.ErrInvalidArgument)

func dmaAlloc(int) (int, error) { return -1, errNoDMA }

func dmaMap(int, int) ([]byte, error) { return nil, errNoDMA }

func dmaUnmap([]byte) error { return errNoDMA }

func dmaDup(int) (int, error) { return -1, errNoDMA }

func dmaClose(int) error { return errNoDMA }
