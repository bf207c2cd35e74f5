package soft

import (
	"fmt"

	"github.com/spaghettifunk/ember/engine/renderer/shaderdata"
)

// Radix sort registers: b0 RadixConstants, u0 source keys, u1 source
// values, u2 histogram, u3 destination keys, u4 destination values.
// The histogram is digit major: entry digit*groups+group.

func init() {
	registerCompute(shaderdata.RadixCountCS, radixCount)
	registerCompute(shaderdata.RadixScanCS, radixScan)
	registerCompute(shaderdata.RadixScatterCS, radixScatter)
}

func radixGroups(c shaderdata.RadixConstants) int {
	size := c.GroupSize
	if size == 0 {
		size = shaderdata.RadixGroupCS
	}
	return int((c.Count + size - 1) / size)
}

func radixRange(c shaderdata.RadixConstants, g int) (int, int) {
	size := int(c.GroupSize)
	if size == 0 {
		size = shaderdata.RadixGroupCS
	}
	start := g * size
	end := start + size
	if end > int(c.Count) {
		end = int(c.Count)
	}
	return start, end
}

func radixCount(ctx *ComputeContext, x, _, _ uint32) error {
	var c shaderdata.RadixConstants
	if err := ctx.Constants(0, &c); err != nil {
		return err
	}
	keys, err := ctx.UAVBuffer(0)
	if err != nil {
		return err
	}
	hist, err := ctx.UAVBuffer(2)
	if err != nil {
		return err
	}
	groups := radixGroups(c)
	if int(x) < groups {
		return fmt.Errorf("radix count dispatched %d groups for %d keys", x, c.Count)
	}
	if len(hist) < groups*shaderdata.RadixBins*4 || len(keys) < int(c.Count)*4 {
		return fmt.Errorf("radix count buffers are too small for %d keys", c.Count)
	}
	ctx.ParallelFor(groups, func(g int) {
		var counts [shaderdata.RadixBins]uint32
		start, end := radixRange(c, g)
		for i := start; i < end; i++ {
			digit := (shaderdata.ReadU32(keys[i*4:]) >> c.Shift) & (shaderdata.RadixBins - 1)
			counts[digit]++
		}
		for d, n := range counts {
			shaderdata.PutU32(hist[(d*groups+g)*4:], n)
		}
	})
	return nil
}

// radixScan turns the histogram into exclusive offsets. It runs as a single group.
func radixScan(ctx *ComputeContext, _, _, _ uint32) error {
	var c shaderdata.RadixConstants
	if err := ctx.Constants(0, &c); err != nil {
		return err
	}
	hist, err := ctx.UAVBuffer(2)
	if err != nil {
		return err
	}
	entries := radixGroups(c) * shaderdata.RadixBins
	if len(hist) < entries*4 {
		return fmt.Errorf("radix scan histogram is too small for %d keys", c.Count)
	}
	var sum uint32
	for i := 0; i < entries; i++ {
		n := shaderdata.ReadU32(hist[i*4:])
		shaderdata.PutU32(hist[i*4:], sum)
		sum += n
	}
	return nil
}

func radixScatter(ctx *ComputeContext, _, _, _ uint32) error {
	var c shaderdata.RadixConstants
	if err := ctx.Constants(0, &c); err != nil {
		return err
	}
	bufs := make([][]byte, 5)
	for reg := range bufs {
		b, err := ctx.UAVBuffer(uint32(reg))
		if err != nil {
			return err
		}
		bufs[reg] = b
	}
	srcKeys, srcValues, hist, dstKeys, dstValues := bufs[0], bufs[1], bufs[2], bufs[3], bufs[4]
	n := int(c.Count) * 4
	if len(srcKeys) < n || len(srcValues) < n || len(dstKeys) < n || len(dstValues) < n {
		return fmt.Errorf("radix scatter buffers are too small for %d keys", c.Count)
	}
	groups := radixGroups(c)
	ctx.ParallelFor(groups, func(g int) {
		var offsets [shaderdata.RadixBins]uint32
		for d := range offsets {
			offsets[d] = shaderdata.ReadU32(hist[(d*groups+g)*4:])
		}
		start, end := radixRange(c, g)
		for i := start; i < end; i++ {
			key := shaderdata.ReadU32(srcKeys[i*4:])
			digit := (key >> c.Shift) & (shaderdata.RadixBins - 1)
			dst := offsets[digit]
			offsets[digit]++
			shaderdata.PutU32(dstKeys[dst*4:], key)
			shaderdata.PutU32(dstValues[dst*4:], shaderdata.ReadU32(srcValues[i*4:]))
		}
	})
	return nil
}
