package flow

// Cadence sources used by the coordinator. They are embedded as string
// constants so the binary stays self-contained; the contract addresses are
// resolved by the access node through the import aliases configured on it.

// ScriptAccountInfo resolves either the root account (nil user id) or the
// derived child account registered under the given user id, and returns the
// primary balance together with the COA address when one exists.
const ScriptAccountInfo = `
import FungibleToken from "FungibleToken"
import FlowToken from "FlowToken"
import EVM from "EVM"
import HybridCustody from "HybridCustody"
import AccountsPool from "AccountsPool"

access(all) struct AccountStatus {
    access(all) let address: Address
    access(all) let balance: UFix64
    access(all) let coaAddress: String?

    init(address: Address, balance: UFix64, coaAddress: String?) {
        self.address = address
        self.balance = balance
        self.coaAddress = coaAddress
    }
}

access(all) fun main(root: Address, userId: String?): AccountStatus? {
    var target: Address? = root
    if userId != nil {
        target = AccountsPool.borrowPool(root)?.childAddress(userId!)
    }
    if target == nil {
        return nil
    }
    let acct = getAccount(target!)
    let balanceRef = acct.capabilities
        .borrow<&{FungibleToken.Balance}>(/public/flowTokenBalance)
    var coaHex: String? = nil
    if let coa = acct.capabilities.borrow<&EVM.CadenceOwnedAccount>(/public/evm) {
        coaHex = coa.address().toString()
    }
    return AccountStatus(
        address: target!,
        balance: balanceRef?.balance ?? 0.0,
        coaAddress: coaHex
    )
}
`

// TxCreateChildAccount derives a child account under the root account for
// the given user id and optionally funds it.
const TxCreateChildAccount = `
import FlowToken from "FlowToken"
import AccountsPool from "AccountsPool"

transaction(userId: String, initialFunding: UFix64?) {
    prepare(signer: auth(BorrowValue) &Account) {
        let pool = AccountsPool.borrowAdmin(signer)
        pool.ensureChildAccount(userId: userId, funding: initialFunding)
    }
}
`

// TxTransferFlow moves native FLOW to a ledger or EVM recipient; the
// receiver form is resolved inside the transaction.
const TxTransferFlow = `
import FungibleToken from "FungibleToken"
import FlowToken from "FlowToken"
import EVM from "EVM"

transaction(recipient: String, amount: UFix64) {
    prepare(signer: auth(BorrowValue) &Account) {
        let vault = signer.storage
            .borrow<auth(FungibleToken.Withdraw) &FlowToken.Vault>(from: /storage/flowTokenVault)
            ?? panic("missing FlowToken vault")
        EVM.routeTransfer(from: <-vault.withdraw(amount: amount), to: recipient)
    }
}
`

// TxTransferGenericFT moves an arbitrary Cadence fungible token.
const TxTransferGenericFT = `
import FungibleToken from "FungibleToken"
import FungibleTokenMetadataViews from "FungibleTokenMetadataViews"

transaction(amount: UFix64, recipient: Address, tokenAddress: Address, tokenContract: String) {
    prepare(signer: auth(BorrowValue) &Account) {
        let ftContract = getAccount(tokenAddress).contracts
            .borrow<&{FungibleToken}>(name: tokenContract)
            ?? panic("token contract not found")
        let data = ftContract.resolveContractView(
            resourceType: nil,
            viewType: Type<FungibleTokenMetadataViews.FTVaultData>()
        )! as! FungibleTokenMetadataViews.FTVaultData
        let vault = signer.storage
            .borrow<auth(FungibleToken.Withdraw) &{FungibleToken.Provider}>(from: data.storagePath)
            ?? panic("missing source vault")
        getAccount(recipient).capabilities
            .borrow<&{FungibleToken.Receiver}>(data.receiverPath)!
            .deposit(from: <-vault.withdraw(amount: amount))
    }
}
`

// TxTransferERC20 calls the signer's COA to transfer an ERC20 balance on
// the EVM side; the amount is already scaled to the token's smallest unit.
const TxTransferERC20 = `
import EVM from "EVM"

transaction(tokenContract: String, recipient: String, amount: UInt256) {
    prepare(signer: auth(BorrowValue) &Account) {
        let coa = signer.storage
            .borrow<auth(EVM.Call) &EVM.CadenceOwnedAccount>(from: /storage/evm)
            ?? panic("missing COA")
        coa.transferERC20(token: tokenContract, to: recipient, amount: amount)
    }
}
`

// TxBridgeOut sends tokens from the local EVM leg towards a foreign chain
// through the omnichain endpoint configured for the destination.
const TxBridgeOut = `
import EVM from "EVM"

transaction(tokenContract: String, dstEndpoint: UInt64, recipient: String, amount: UInt256, minOut: UInt256) {
    prepare(signer: auth(BorrowValue) &Account) {
        let coa = signer.storage
            .borrow<auth(EVM.Call) &EVM.CadenceOwnedAccount>(from: /storage/evm)
            ?? panic("missing COA")
        coa.bridgeSend(
            token: tokenContract,
            dstEid: dstEndpoint,
            to: recipient,
            amount: amount,
            minAmount: minOut
        )
    }
}
`

// TxBridgeIn registers an inbound claim for tokens arriving from a foreign
// chain onto the local EVM leg.
const TxBridgeIn = `
import EVM from "EVM"

transaction(tokenContract: String, srcEndpoint: UInt64, recipient: String, amount: UInt256, minOut: UInt256) {
    prepare(signer: auth(BorrowValue) &Account) {
        let coa = signer.storage
            .borrow<auth(EVM.Call) &EVM.CadenceOwnedAccount>(from: /storage/evm)
            ?? panic("missing COA")
        coa.bridgeClaim(
            token: tokenContract,
            srcEid: srcEndpoint,
            to: recipient,
            amount: amount,
            minAmount: minOut
        )
    }
}
`

// TxSwap performs a swap on the local EVM leg through the configured DEX
// router.
const TxSwap = `
import EVM from "EVM"

transaction(fromToken: String, toToken: String, amount: UInt256, minOut: UInt256, recipient: String) {
    prepare(signer: auth(BorrowValue) &Account) {
        let coa = signer.storage
            .borrow<auth(EVM.Call) &EVM.CadenceOwnedAccount>(from: /storage/evm)
            ?? panic("missing COA")
        coa.swapExact(
            fromToken: fromToken,
            toToken: toToken,
            amountIn: amount,
            minAmountOut: minOut,
            to: recipient
        )
    }
}
`

// EventAccountCreated is emitted by the service chain when a new account is
// derived; the child creation flow extracts the fresh address from it.
const EventAccountCreated = "flow.AccountCreated"
