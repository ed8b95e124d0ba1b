package registry

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/efreitasn/miniswap/internal/domain"
)

// ERC-721 function selectors.
var (
	selOwnerOf          = [4]byte{0x63, 0x52, 0x21, 0x1e} // ownerOf(uint256)
	selGetApproved      = [4]byte{0x08, 0x18, 0x12, 0xfc} // getApproved(uint256)
	selIsApprovedForAll = [4]byte{0xe9, 0x85, 0xe9, 0xc5} // isApprovedForAll(address,address)
	selTransferFrom     = [4]byte{0x23, 0xb8, 0x72, 0xdd} // transferFrom(address,address,uint256)
)

const transferGasLimit = 200_000

// ERC721 adapts one ERC-721 contract to the Registry interface. Parties
// are hex addresses and asset ids are token ids (decimal or 0x-hex).
// Transfers are sent as transactions signed by the operator key, so the
// operator address must hold approval on the token for a transfer to
// succeed on chain.
type ERC721 struct {
	client   *ethclient.Client
	contract common.Address
	operator common.Address
	// Never store production keys in process memory; wire an HSM/KMS
	// signer here for real deployments.
	key     *ecdsa.PrivateKey
	chainID *big.Int
}

// NewERC721 dials rpcURL and prepares an adapter for the contract at
// contractAddr, transferring with operatorKeyHex.
func NewERC721(rpcURL, contractAddr, operatorKeyHex string) (*ERC721, error) {
	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", rpcURL, err)
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(operatorKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse operator key: %w", err)
	}
	chainID, err := client.NetworkID(context.Background())
	if err != nil {
		return nil, fmt.Errorf("fetch chain id: %w", err)
	}
	return &ERC721{
		client:   client,
		contract: common.HexToAddress(contractAddr),
		operator: crypto.PubkeyToAddress(key.PublicKey),
		key:      key,
		chainID:  chainID,
	}, nil
}

// Operator returns the adapter's transfer principal as a Party.
func (e *ERC721) Operator() domain.Party {
	return domain.Party(e.operator.Hex())
}

// OwnerOf resolves the token's current owner. ERC-721 contracts revert
// on unknown tokens, which is reported as asset_not_found.
func (e *ERC721) OwnerOf(ctx context.Context, ref domain.AssetRef) (domain.Party, error) {
	tokenID, err := parseTokenID(ref)
	if err != nil {
		return "", err
	}
	out, err := e.call(ctx, append(selOwnerOf[:], padUint(tokenID)...))
	if err != nil {
		return "", fmt.Errorf("%w: %s", domain.ErrAssetNotFound, ref)
	}
	if len(out) < 32 {
		return "", fmt.Errorf("ownerOf %s: short return data", ref)
	}
	return domain.Party(common.BytesToAddress(out[12:32]).Hex()), nil
}

// IsTransferAuthorized reports whether operator holds a per-token
// approval or an approval-for-all from owner.
func (e *ERC721) IsTransferAuthorized(ctx context.Context, ref domain.AssetRef, owner, operator domain.Party) (bool, error) {
	tokenID, err := parseTokenID(ref)
	if err != nil {
		return false, err
	}
	opAddr := common.HexToAddress(string(operator))

	out, err := e.call(ctx, append(selGetApproved[:], padUint(tokenID)...))
	if err != nil {
		return false, fmt.Errorf("%w: %s", domain.ErrAssetNotFound, ref)
	}
	if len(out) >= 32 && common.BytesToAddress(out[12:32]) == opAddr {
		return true, nil
	}

	data := append(selIsApprovedForAll[:], padAddress(common.HexToAddress(string(owner)))...)
	data = append(data, padAddress(opAddr)...)
	out, err = e.call(ctx, data)
	if err != nil {
		return false, fmt.Errorf("isApprovedForAll %s: %w", ref, err)
	}
	return len(out) >= 32 && out[31] == 1, nil
}

// Transfer submits a transferFrom transaction signed by the operator key
// and waits for it to be mined. A reverted receipt is a failure.
func (e *ERC721) Transfer(ctx context.Context, ref domain.AssetRef, from, to domain.Party) error {
	tokenID, err := parseTokenID(ref)
	if err != nil {
		return err
	}
	data := append(selTransferFrom[:], padAddress(common.HexToAddress(string(from)))...)
	data = append(data, padAddress(common.HexToAddress(string(to)))...)
	data = append(data, padUint(tokenID)...)

	nonce, err := e.client.PendingNonceAt(ctx, e.operator)
	if err != nil {
		return fmt.Errorf("fetch nonce: %w", err)
	}
	gasPrice, err := e.client.SuggestGasPrice(ctx)
	if err != nil {
		return fmt.Errorf("suggest gas price: %w", err)
	}

	tx := types.NewTransaction(nonce, e.contract, new(big.Int), transferGasLimit, gasPrice, data)
	signed, err := types.SignTx(tx, types.NewEIP155Signer(e.chainID), e.key)
	if err != nil {
		return fmt.Errorf("sign transfer: %w", err)
	}
	if err := e.client.SendTransaction(ctx, signed); err != nil {
		return fmt.Errorf("send transfer: %w", err)
	}
	return e.waitMined(ctx, signed.Hash())
}

// call performs a read-only contract call against the latest block.
func (e *ERC721) call(ctx context.Context, data []byte) ([]byte, error) {
	return e.client.CallContract(ctx, ethereum.CallMsg{
		To:   &e.contract,
		Data: data,
	}, nil)
}

// waitMined polls for the transaction receipt until mined or ctx ends.
func (e *ERC721) waitMined(ctx context.Context, hash common.Hash) error {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		receipt, err := e.client.TransactionReceipt(ctx, hash)
		if err == nil {
			if receipt.Status != types.ReceiptStatusSuccessful {
				return fmt.Errorf("transfer tx %s reverted", hash.Hex())
			}
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for transfer tx %s: %w", hash.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}

// parseTokenID converts an asset id to a uint256 token id. Both decimal
// and 0x-prefixed hex forms are accepted.
func parseTokenID(ref domain.AssetRef) (*big.Int, error) {
	s := ref.AssetID
	base := 10
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		s = s[2:]
		base = 16
	}
	id, ok := new(big.Int).SetString(s, base)
	if !ok || id.Sign() < 0 {
		return nil, fmt.Errorf("%w: malformed token id %q", domain.ErrAssetNotFound, ref.AssetID)
	}
	return id, nil
}

// padUint left-pads a big.Int into a 32-byte ABI word.
func padUint(v *big.Int) []byte {
	return common.LeftPadBytes(v.Bytes(), 32)
}

// padAddress left-pads an address into a 32-byte ABI word.
func padAddress(a common.Address) []byte {
	return common.LeftPadBytes(a.Bytes(), 32)
}
