package ledger

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// ticketABI is the subset of the deployed ticket contract this service
// calls. Token ids are uint256 on-chain and decimal strings off-chain.
const ticketABI = `[
	{"type":"function","name":"mintTicket","stateMutability":"nonpayable",
	 "inputs":[{"name":"tokenURI","type":"string"},{"name":"price","type":"uint256"},{"name":"eventId","type":"string"},{"name":"venueId","type":"string"}],
	 "outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"buyTicket","stateMutability":"payable",
	 "inputs":[{"name":"tokenId","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"setOTPHash","stateMutability":"nonpayable",
	 "inputs":[{"name":"tokenId","type":"uint256"},{"name":"otpHash","type":"string"}],"outputs":[]},
	{"type":"function","name":"burnTicket","stateMutability":"nonpayable",
	 "inputs":[{"name":"tokenId","type":"uint256"},{"name":"otp","type":"string"}],"outputs":[]},
	{"type":"function","name":"ownerOf","stateMutability":"view",
	 "inputs":[{"name":"tokenId","type":"uint256"}],"outputs":[{"name":"","type":"address"}]},
	{"type":"event","name":"TicketMinted","anonymous":false,
	 "inputs":[{"name":"tokenId","type":"uint256","indexed":true},{"name":"seller","type":"address","indexed":true},{"name":"price","type":"uint256","indexed":false}]}
]`

const (
	methodMint    = "mintTicket"
	methodBuy     = "buyTicket"
	methodSetHash = "setOTPHash"
	methodBurn    = "burnTicket"
	methodOwnerOf = "ownerOf"
	eventMinted   = "TicketMinted"
)

func parseTicketABI() (abi.ABI, error) {
	return abi.JSON(strings.NewReader(ticketABI))
}
