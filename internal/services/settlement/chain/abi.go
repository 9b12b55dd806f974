package chain

// agreementABI is the fixed call surface of the custodial escrow contract.
// The contract's bytecode is an external dependency; only this interface is
// relied upon.
const agreementABI = `[
  {
    "name": "openAgreement",
    "type": "function",
    "stateMutability": "nonpayable",
    "inputs": [
      {"name": "id", "type": "uint256"},
      {"name": "contributor", "type": "address"},
      {"name": "amount", "type": "uint256"}
    ],
    "outputs": []
  },
  {
    "name": "releaseAgreement",
    "type": "function",
    "stateMutability": "nonpayable",
    "inputs": [{"name": "id", "type": "uint256"}],
    "outputs": []
  },
  {
    "name": "cancelAgreement",
    "type": "function",
    "stateMutability": "nonpayable",
    "inputs": [{"name": "id", "type": "uint256"}],
    "outputs": []
  },
  {
    "name": "getAgreement",
    "type": "function",
    "stateMutability": "view",
    "inputs": [{"name": "id", "type": "uint256"}],
    "outputs": [
      {"name": "contributor", "type": "address"},
      {"name": "amount", "type": "uint256"},
      {"name": "contributorConfirmed", "type": "bool"},
      {"name": "counterpartyConfirmed", "type": "bool"},
      {"name": "exists", "type": "bool"}
    ]
  }
]`
