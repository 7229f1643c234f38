package rollup

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
)

// wireConfig is the RLP-friendly shape of Config: RLP has no native
// optional/nullable scalar, so each hard-fork timestamp is paired with a
// presence bit in ActivationSet (bit i set means field i was non-nil),
// matching the order RegolithTime..InteropTime are declared in Config.
type wireConfig struct {
	ChainID *big.Int

	GenesisL1       common.Hash
	GenesisL1Number uint64
	GenesisL2       common.Hash
	GenesisL2Number uint64
	GenesisL2Time   uint64

	SysBatcherAddr      common.Address
	SysOverhead         [32]byte
	SysScalar           [32]byte
	SysGasLimit         uint64
	SysEIP1559Denom     uint32
	SysEIP1559Elasticity uint32

	BlockTime              uint64
	SeqWindowSize          uint64
	MaxSequencerDrift      uint64
	ChannelTimeout         uint64
	BatchInboxAddress      common.Address
	DepositContractAddress common.Address
	L1SystemConfigAddress  common.Address

	ActivationSet  uint8
	ActivationTime [8]uint64
}

const (
	bitRegolith = iota
	bitCanyon
	bitDelta
	bitEcotone
	bitFjord
	bitGranite
	bitHolocene
	bitInterop
)

// EncodeConfig renders the Local key 5 "serialised rollup config" form, per
// §6.
func EncodeConfig(cfg *Config) ([]byte, error) {
	w := wireConfig{
		ChainID:                cfg.ChainID,
		GenesisL1:              cfg.Genesis.L1,
		GenesisL1Number:        cfg.Genesis.L1Number,
		GenesisL2:              cfg.Genesis.L2,
		GenesisL2Number:        cfg.Genesis.L2Number,
		GenesisL2Time:          cfg.Genesis.L2Time,
		SysBatcherAddr:         cfg.Genesis.SystemConfig.BatcherAddr,
		SysOverhead:            cfg.Genesis.SystemConfig.Overhead,
		SysScalar:              cfg.Genesis.SystemConfig.Scalar,
		SysGasLimit:            cfg.Genesis.SystemConfig.GasLimit,
		SysEIP1559Denom:        cfg.Genesis.SystemConfig.EIP1559Denom,
		SysEIP1559Elasticity:   cfg.Genesis.SystemConfig.EIP1559Elasticity,
		BlockTime:              cfg.BlockTime,
		SeqWindowSize:          cfg.SeqWindowSize,
		MaxSequencerDrift:      cfg.MaxSequencerDrift,
		ChannelTimeout:         cfg.ChannelTimeout,
		BatchInboxAddress:      cfg.BatchInboxAddress,
		DepositContractAddress: cfg.DepositContractAddress,
		L1SystemConfigAddress:  cfg.L1SystemConfigAddress,
	}
	setBit(&w, bitRegolith, cfg.RegolithTime)
	setBit(&w, bitCanyon, cfg.CanyonTime)
	setBit(&w, bitDelta, cfg.DeltaTime)
	setBit(&w, bitEcotone, cfg.EcotoneTime)
	setBit(&w, bitFjord, cfg.FjordTime)
	setBit(&w, bitGranite, cfg.GraniteTime)
	setBit(&w, bitHolocene, cfg.HoloceneTime)
	setBit(&w, bitInterop, cfg.InteropTime)
	return rlp.EncodeToBytes(&w)
}

func setBit(w *wireConfig, bit int, t *uint64) {
	if t == nil {
		return
	}
	w.ActivationSet |= 1 << uint(bit)
	w.ActivationTime[bit] = *t
}

// DecodeConfig is the inverse of EncodeConfig.
func DecodeConfig(enc []byte) (*Config, error) {
	var w wireConfig
	if err := rlp.DecodeBytes(enc, &w); err != nil {
		return nil, fmt.Errorf("rollup: decode config: %w", err)
	}
	cfg := &Config{
		ChainID: w.ChainID,
		Genesis: Genesis{
			L1:       w.GenesisL1,
			L1Number: w.GenesisL1Number,
			L2:       w.GenesisL2,
			L2Number: w.GenesisL2Number,
			L2Time:   w.GenesisL2Time,
			SystemConfig: SystemConfig{
				BatcherAddr:       w.SysBatcherAddr,
				Overhead:          w.SysOverhead,
				Scalar:            w.SysScalar,
				GasLimit:          w.SysGasLimit,
				EIP1559Denom:      w.SysEIP1559Denom,
				EIP1559Elasticity: w.SysEIP1559Elasticity,
			},
		},
		BlockTime:              w.BlockTime,
		SeqWindowSize:          w.SeqWindowSize,
		MaxSequencerDrift:      w.MaxSequencerDrift,
		ChannelTimeout:         w.ChannelTimeout,
		BatchInboxAddress:      w.BatchInboxAddress,
		DepositContractAddress: w.DepositContractAddress,
		L1SystemConfigAddress:  w.L1SystemConfigAddress,
	}
	cfg.RegolithTime = getBit(&w, bitRegolith)
	cfg.CanyonTime = getBit(&w, bitCanyon)
	cfg.DeltaTime = getBit(&w, bitDelta)
	cfg.EcotoneTime = getBit(&w, bitEcotone)
	cfg.FjordTime = getBit(&w, bitFjord)
	cfg.GraniteTime = getBit(&w, bitGranite)
	cfg.HoloceneTime = getBit(&w, bitHolocene)
	cfg.InteropTime = getBit(&w, bitInterop)
	return cfg, nil
}

func getBit(w *wireConfig, bit int) *uint64 {
	if w.ActivationSet&(1<<uint(bit)) == 0 {
		return nil
	}
	t := w.ActivationTime[bit]
	return &t
}
