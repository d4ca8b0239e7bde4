// Package bitcoin validates the miner's payout address.
//
// The job API identifies miners by a base58 or bech32 address sent in the
// Address header. A malformed address would make every submission count
// for nobody, so the miner checks it once at startup against the
// configured network.
package bitcoin

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/bardlex/gompow/pkg/errors"
)

// AddressInfo describes a validated address.
type AddressInfo struct {
	// Address is the address in its canonical encoding.
	Address string
	// Network is the chaincfg name of the network the address belongs to.
	Network string
	// Net is the network magic.
	Net wire.BitcoinNet
	// Class is the script class the address pays to, e.g. "pubkeyhash".
	Class string
	// PkScript is the hex output script paying to the address.
	PkScript string
}

// NetworkParams maps a network name to its chain parameters.
//
// Parameters:
//   - network: one of mainnet, testnet, testnet3, regtest, signet, simnet
//
// Returns:
//   - *chaincfg.Params: the chain parameters
//   - error: a validation error for unknown names
func NetworkParams(network string) (*chaincfg.Params, error) {
	switch strings.ToLower(strings.TrimSpace(network)) {
	case "", "mainnet", "main":
		return &chaincfg.MainNetParams, nil
	case "testnet", "testnet3":
		return &chaincfg.TestNet3Params, nil
	case "regtest":
		return &chaincfg.RegressionNetParams, nil
	case "signet":
		return &chaincfg.SigNetParams, nil
	case "simnet":
		return &chaincfg.SimNetParams, nil
	default:
		return nil, errors.New(errors.ErrorTypeValidation, "network_params",
			fmt.Sprintf("unknown network %q", network))
	}
}

// ValidateAddress decodes address and checks that it belongs to params.
//
// Parameters:
//   - address: the miner address as configured
//   - params: the network the address must belong to
//
// Returns:
//   - *AddressInfo: the decoded address with its output script
//   - error: a bitcoin error when the address does not decode or is for
//     another network
func ValidateAddress(address string, params *chaincfg.Params) (*AddressInfo, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return nil, errors.New(errors.ErrorTypeValidation, "validate_address",
			"address is empty")
	}

	decoded, err := btcutil.DecodeAddress(address, params)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeBitcoin, "validate_address",
			"failed to decode address").
			WithContext("network", params.Name)
	}
	if !decoded.IsForNet(params) {
		return nil, errors.New(errors.ErrorTypeBitcoin, "validate_address",
			"address is for a different network").
			WithContext("network", params.Name)
	}

	pkScript, err := txscript.PayToAddrScript(decoded)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeBitcoin, "validate_address",
			"failed to build output script").
			WithContext("network", params.Name)
	}

	return &AddressInfo{
		Address:  decoded.EncodeAddress(),
		Network:  params.Name,
		Net:      params.Net,
		Class:    txscript.GetScriptClass(pkScript).String(),
		PkScript: hex.EncodeToString(pkScript),
	}, nil
}
